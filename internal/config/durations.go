package config

import (
	"path/filepath"
	"time"
)

// JobWorkspace returns the staging workspace directory for a job. Every
// stage confines its scratch files to this directory.
func (c *Config) JobWorkspace(jobUUID string) string {
	return filepath.Join(c.Paths.StagingDir, jobUUID)
}

// SeparatorPassTimeout bounds a single engine invocation.
func (c *Config) SeparatorPassTimeout() time.Duration {
	return secondsOrZero(c.Separator.PassTimeout)
}

// ModelDownloadTimeout bounds a single model-weights download.
func (c *Config) ModelDownloadTimeout() time.Duration {
	return secondsOrZero(c.Separator.ModelDownloadTimeout)
}

// JobExecutionTimeout bounds a job's total handler runtime. Expiry surfaces
// as TIMED_OUT on the status API.
func (c *Config) JobExecutionTimeout() time.Duration {
	return secondsOrZero(c.Jobs.ExecutionTimeout)
}

// SyncWait is how long /runsync holds the request before degrading to the
// async envelope.
func (c *Config) SyncWait() time.Duration {
	return secondsOrZero(c.Jobs.SyncWaitSeconds)
}

// RetentionAge is how long terminal jobs stay in the queue before the sweep
// removes them. Zero disables the sweep.
func (c *Config) RetentionAge() time.Duration {
	if c.Jobs.RetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}

// QueuePollInterval is the idle wait between queue scans.
func (c *Config) QueuePollIntervalDuration() time.Duration {
	return secondsOrZero(c.Workflow.QueuePollInterval)
}

// ErrorRetryInterval is the backoff after a queue scan fails.
func (c *Config) ErrorRetryIntervalDuration() time.Duration {
	return secondsOrZero(c.Workflow.ErrorRetryInterval)
}

// HeartbeatInterval is the cadence of per-job heartbeats while a stage runs.
func (c *Config) HeartbeatIntervalDuration() time.Duration {
	return secondsOrZero(c.Workflow.HeartbeatInterval)
}

// HeartbeatTimeout is the staleness cutoff after which processing jobs are
// reclaimed.
func (c *Config) HeartbeatTimeoutDuration() time.Duration {
	return secondsOrZero(c.Workflow.HeartbeatTimeout)
}

// NotificationTimeout bounds a single notification publish.
func (c *Config) NotificationTimeout() time.Duration {
	return secondsOrZero(c.Notifications.RequestTimeout)
}

// BucketURLTTL is the expiry applied to presigned delivery URLs.
func (c *Config) BucketURLTTL() time.Duration {
	if c.Bucket.URLTTLHours <= 0 {
		return 0
	}
	return time.Duration(c.Bucket.URLTTLHours) * time.Hour
}

func secondsOrZero(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
