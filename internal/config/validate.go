package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSeparator(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateBucket(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSeparator() error {
	if strings.TrimSpace(c.Separator.Binary) == "" {
		return errors.New("separator.binary must be set")
	}
	if strings.TrimSpace(c.Separator.DefaultModel) == "" {
		return errors.New("separator.default_model must be set")
	}
	if c.Separator.NormalizationThreshold < 0 || c.Separator.NormalizationThreshold > 1 {
		return errors.New("separator.normalization_threshold must be between 0 and 1")
	}
	if c.Separator.AmplificationThreshold < 0 || c.Separator.AmplificationThreshold > 1 {
		return errors.New("separator.amplification_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.execution_timeout": c.Jobs.ExecutionTimeout,
		"jobs.sync_wait_seconds": c.Jobs.SyncWaitSeconds,
	}); err != nil {
		return err
	}
	if c.Jobs.MaxInputBytes <= 0 {
		return errors.New("jobs.max_input_bytes must be positive")
	}
	if c.Jobs.MaxSyncInputBytes < c.Jobs.MaxInputBytes {
		return errors.New("jobs.max_sync_input_bytes must be at least jobs.max_input_bytes")
	}
	return nil
}

func (c *Config) validateBucket() error {
	if !c.Bucket.Configured() {
		return nil
	}
	if strings.TrimSpace(c.Bucket.Name) == "" {
		return errors.New("bucket.name must be set when bucket.endpoint_url is configured (or set BUCKET_NAME)")
	}
	if strings.TrimSpace(c.Bucket.AccessKeyID) == "" {
		return errors.New("bucket.access_key_id must be set when bucket.endpoint_url is configured (or set BUCKET_ACCESS_KEY_ID)")
	}
	if strings.TrimSpace(c.Bucket.SecretAccessKey) == "" {
		return errors.New("bucket.secret_access_key must be set when bucket.endpoint_url is configured (or set BUCKET_SECRET_ACCESS_KEY)")
	}
	if c.Bucket.URLTTLHours <= 0 {
		return errors.New("bucket.url_ttl_hours must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"separator.pass_timeout":           c.Separator.PassTimeout,
		"separator.model_download_timeout": c.Separator.ModelDownloadTimeout,
		"notifications.request_timeout":    c.Notifications.RequestTimeout,
		"workflow.queue_poll_interval":     c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":    c.Workflow.ErrorRetryInterval,
		"workflow.intake_workers":          c.Workflow.IntakeWorkers,
		"workflow.separation_workers":      c.Workflow.SeparationWorkers,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
