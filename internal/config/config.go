package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	ModelDir   string `toml:"model_dir"`
	LogDir     string `toml:"log_dir"`
	WatchDir   string `toml:"watch_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Separator contains configuration for the external separation engine.
type Separator struct {
	Binary                 string   `toml:"binary"`
	DefaultModel           string   `toml:"default_model"`
	PreloadModels          []string `toml:"preload_models"`
	OutputFormat           string   `toml:"output_format"`
	NormalizationThreshold float64  `toml:"normalization_threshold"`
	AmplificationThreshold float64  `toml:"amplification_threshold"`
	UseAutocast            bool     `toml:"use_autocast"`
	PassTimeout            int      `toml:"pass_timeout"`
	ModelDownloadTimeout   int      `toml:"model_download_timeout"`
}

// Jobs contains job intake and lifecycle limits.
type Jobs struct {
	MaxInputBytes     int64 `toml:"max_input_bytes"`
	MaxSyncInputBytes int64 `toml:"max_sync_input_bytes"`
	ExecutionTimeout  int   `toml:"execution_timeout"`
	SyncWaitSeconds   int   `toml:"sync_wait_seconds"`
	RetentionHours    int   `toml:"retention_hours"`
	CleanupWorkspace  bool  `toml:"cleanup_workspace"`
}

// Bucket contains configuration for the S3-compatible result store.
type Bucket struct {
	EndpointURL     string `toml:"endpoint_url"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Name            string `toml:"name"`
	Region          string `toml:"region"`
	Prefix          string `toml:"prefix"`
	URLTTLHours     int    `toml:"url_ttl_hours"`
}

// Configured reports whether an endpoint has been supplied. Unconfigured
// buckets fall back to local output delivery with file:// URLs.
func (b Bucket) Configured() bool {
	return strings.TrimSpace(b.EndpointURL) != ""
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	QueueDrained   bool   `toml:"queue_drained"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains configuration for daemon timing and concurrency.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	IntakeWorkers      int `toml:"intake_workers"`
	SeparationWorkers  int `toml:"separation_workers"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for unmix.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Separator: external engine binary, model roster, and tuning
//   - Jobs: payload caps, execution timeout, sync wait, retention
//   - Bucket: S3-compatible delivery endpoint and presign TTL
//   - Notifications: ntfy push notification settings
//   - Workflow: daemon polling intervals, heartbeats, worker counts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Separator     Separator     `toml:"separator"`
	Jobs          Jobs          `toml:"jobs"`
	Bucket        Bucket        `toml:"bucket"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/unmix/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/unmix/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("unmix.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The watch directory is created on a best-effort basis so the daemon can run
// when the ingest mount is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir, c.Paths.OutputDir, c.Paths.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.WatchDir) != "" {
		// Best-effort to avoid failing config load when the mount is offline.
		_ = os.MkdirAll(c.Paths.WatchDir, 0o755)
	}
	return nil
}

// SeparatorBinary returns the separation engine executable name.
func (c *Config) SeparatorBinary() string {
	if strings.TrimSpace(c.Separator.Binary) != "" {
		return c.Separator.Binary
	}
	return "audio-separator"
}

// FFmpegBinary returns the ffmpeg executable name the engine shells out to
// for non-WAV output encoding.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
