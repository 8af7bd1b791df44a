package config

const (
	defaultStagingDir           = "~/.local/share/unmix/staging"
	defaultOutputDir            = "~/.local/share/unmix/output"
	defaultModelDir             = "~/.local/share/unmix/models"
	defaultLogDir               = "~/.local/share/unmix/logs"
	defaultLogRetentionDays     = 60
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultAPIBind              = "127.0.0.1:8000"
	defaultSeparatorBinary      = "audio-separator"
	defaultModelFilename        = "Kim_Vocal_1.onnx"
	defaultOutputFormat         = "WAV"
	defaultNormalization        = 0.9
	defaultAmplification        = 0.0
	defaultPassTimeout          = 1800
	defaultModelDownloadTimeout = 600
	defaultMaxInputBytes        = 10 << 20
	defaultMaxSyncInputBytes    = 20 << 20
	defaultExecutionTimeout     = 3600
	defaultSyncWaitSeconds      = 90
	defaultRetentionHours       = 168
	defaultBucketPrefix         = "unmix"
	defaultBucketURLTTLHours    = 24
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultIntakeWorkers        = 2
	defaultSeparationWorkers    = 1
)

// defaultPreloadModels mirrors the model roster the advanced pipeline needs,
// warmed at daemon startup so first jobs skip the download stall.
func defaultPreloadModels() []string {
	return []string{
		"Kim_Vocal_1.onnx",
		"UVR_MDXNET_KARA.onnx",
		"UVR-De-Echo-Aggressive.pth",
		"UVR-DeNoise.pth",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			ModelDir:   defaultModelDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Separator: Separator{
			Binary:                 defaultSeparatorBinary,
			DefaultModel:           defaultModelFilename,
			PreloadModels:          defaultPreloadModels(),
			OutputFormat:           defaultOutputFormat,
			NormalizationThreshold: defaultNormalization,
			AmplificationThreshold: defaultAmplification,
			UseAutocast:            true,
			PassTimeout:            defaultPassTimeout,
			ModelDownloadTimeout:   defaultModelDownloadTimeout,
		},
		Jobs: Jobs{
			MaxInputBytes:     defaultMaxInputBytes,
			MaxSyncInputBytes: defaultMaxSyncInputBytes,
			ExecutionTimeout:  defaultExecutionTimeout,
			SyncWaitSeconds:   defaultSyncWaitSeconds,
			RetentionHours:    defaultRetentionHours,
			CleanupWorkspace:  true,
		},
		Bucket: Bucket{
			Prefix:      defaultBucketPrefix,
			URLTTLHours: defaultBucketURLTTLHours,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobCompleted:   true,
			JobFailed:      true,
			QueueDrained:   true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			IntakeWorkers:      defaultIntakeWorkers,
			SeparationWorkers:  defaultSeparationWorkers,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
