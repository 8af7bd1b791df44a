package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSeparator()
	c.normalizeJobs()
	c.normalizeBucket()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ModelDir) == "" {
		c.Paths.ModelDir = defaultModelDir
	}
	if c.Paths.ModelDir, err = expandPath(c.Paths.ModelDir); err != nil {
		return fmt.Errorf("paths.model_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WatchDir) != "" {
		if c.Paths.WatchDir, err = expandPath(c.Paths.WatchDir); err != nil {
			return fmt.Errorf("paths.watch_dir: %w", err)
		}
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("UNMIX_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeSeparator() {
	c.Separator.Binary = strings.TrimSpace(c.Separator.Binary)
	if c.Separator.Binary == "" {
		c.Separator.Binary = defaultSeparatorBinary
	}
	c.Separator.DefaultModel = strings.TrimSpace(c.Separator.DefaultModel)
	if c.Separator.DefaultModel == "" {
		c.Separator.DefaultModel = defaultModelFilename
	}
	if len(c.Separator.PreloadModels) == 0 {
		c.Separator.PreloadModels = defaultPreloadModels()
	} else {
		models := make([]string, 0, len(c.Separator.PreloadModels))
		seen := make(map[string]struct{}, len(c.Separator.PreloadModels))
		for _, model := range c.Separator.PreloadModels {
			trimmed := strings.TrimSpace(model)
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			models = append(models, trimmed)
		}
		c.Separator.PreloadModels = models
	}
	c.Separator.OutputFormat = strings.ToUpper(strings.TrimSpace(c.Separator.OutputFormat))
	if c.Separator.OutputFormat == "" {
		c.Separator.OutputFormat = defaultOutputFormat
	}
	if c.Separator.PassTimeout <= 0 {
		c.Separator.PassTimeout = defaultPassTimeout
	}
	if c.Separator.ModelDownloadTimeout <= 0 {
		c.Separator.ModelDownloadTimeout = defaultModelDownloadTimeout
	}
}

func (c *Config) normalizeJobs() {
	if c.Jobs.MaxInputBytes <= 0 {
		c.Jobs.MaxInputBytes = defaultMaxInputBytes
	}
	if c.Jobs.MaxSyncInputBytes <= 0 {
		c.Jobs.MaxSyncInputBytes = defaultMaxSyncInputBytes
	}
	if c.Jobs.ExecutionTimeout <= 0 {
		c.Jobs.ExecutionTimeout = defaultExecutionTimeout
	}
	if c.Jobs.SyncWaitSeconds <= 0 {
		c.Jobs.SyncWaitSeconds = defaultSyncWaitSeconds
	}
	if c.Jobs.RetentionHours < 0 {
		c.Jobs.RetentionHours = 0
	}
}

// normalizeBucket honours the credential environment variables hosted
// deployments inject, so a config file never has to carry secrets.
func (c *Config) normalizeBucket() {
	c.Bucket.EndpointURL = strings.TrimSpace(c.Bucket.EndpointURL)
	if c.Bucket.EndpointURL == "" {
		if value, ok := os.LookupEnv("BUCKET_ENDPOINT_URL"); ok {
			c.Bucket.EndpointURL = strings.TrimSpace(value)
		}
	}
	c.Bucket.AccessKeyID = strings.TrimSpace(c.Bucket.AccessKeyID)
	if c.Bucket.AccessKeyID == "" {
		if value, ok := os.LookupEnv("BUCKET_ACCESS_KEY_ID"); ok {
			c.Bucket.AccessKeyID = strings.TrimSpace(value)
		}
	}
	c.Bucket.SecretAccessKey = strings.TrimSpace(c.Bucket.SecretAccessKey)
	if c.Bucket.SecretAccessKey == "" {
		if value, ok := os.LookupEnv("BUCKET_SECRET_ACCESS_KEY"); ok {
			c.Bucket.SecretAccessKey = strings.TrimSpace(value)
		}
	}
	c.Bucket.Name = strings.TrimSpace(c.Bucket.Name)
	if c.Bucket.Name == "" {
		if value, ok := os.LookupEnv("BUCKET_NAME"); ok {
			c.Bucket.Name = strings.TrimSpace(value)
		}
	}
	c.Bucket.Region = strings.TrimSpace(c.Bucket.Region)
	c.Bucket.Prefix = strings.Trim(strings.TrimSpace(c.Bucket.Prefix), "/")
	if c.Bucket.Prefix == "" {
		c.Bucket.Prefix = defaultBucketPrefix
	}
	if c.Bucket.URLTTLHours <= 0 {
		c.Bucket.URLTTLHours = defaultBucketURLTTLHours
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.IntakeWorkers <= 0 {
		c.Workflow.IntakeWorkers = defaultIntakeWorkers
	}
	if c.Workflow.SeparationWorkers <= 0 {
		c.Workflow.SeparationWorkers = defaultSeparationWorkers
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
