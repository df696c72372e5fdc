package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/opentranscribe/mpo/pkg/api"
	"github.com/opentranscribe/mpo/pkg/broker"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Called after loading configuration from file and environment.
//
// Default strategy: zero values (0, "", false, nil) are replaced with
// defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.Database.ApplyDefaults()
	applyAPIDefaults(&cfg.API)
	applyBrokerDefaults(&cfg.Broker)
	applyArtifactDefaults(&cfg.Artifact)
	applyCheckpointDefaults(&cfg.Checkpoint)
	applyRecoveryDefaults(&cfg.Recovery)

	// No defaults for Auth.OperatorSecret or LLM credentials — those must
	// be explicitly configured. Without an operator secret the operator
	// routes are served without authentication; without LLM credentials
	// the LLM provider reports "not configured".
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines",
		}
	}
}

// applyAPIDefaults sets internal operator API defaults.
func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyBrokerDefaults sets Redis broker defaults, including one
// QueueConfig per spec-defined queue class when none are configured.
func applyBrokerDefaults(cfg *BrokerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mpo"
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = defaultQueues()
	}
	for i := range cfg.Queues {
		if cfg.Queues[i].Concurrency == 0 {
			cfg.Queues[i].Concurrency = 2
		}
		if cfg.Queues[i].Visibility == 0 {
			cfg.Queues[i].Visibility = 5 * time.Minute
		}
	}
}

func defaultQueues() []QueueConfig {
	return []QueueConfig{
		{Queue: broker.QueueGPU, Concurrency: 1, Visibility: 15 * time.Minute},
		{Queue: broker.QueueCPU, Concurrency: 4, Visibility: 5 * time.Minute},
		{Queue: broker.QueueNLP, Concurrency: 2, Visibility: 5 * time.Minute},
		{Queue: broker.QueueDownload, Concurrency: 4, Visibility: 10 * time.Minute},
		{Queue: broker.QueueUtility, Concurrency: 2, Visibility: 2 * time.Minute},
	}
}

// applyArtifactDefaults sets artifact store backend defaults.
func applyArtifactDefaults(cfg *ArtifactConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "fs"
	}
	if cfg.Backend == "fs" && cfg.FS.BasePath == "" {
		cfg.FS.BasePath = filepath.Join(getConfigDir(), "artifacts")
	}
	if cfg.Backend == "s3" && cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// applyCheckpointDefaults sets the badger checkpoint cache directory default.
func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getConfigDir(), "checkpoint")
	}
}

// applyRecoveryDefaults sets the reaper's sweep interval and windows.
func applyRecoveryDefaults(cfg *RecoveryConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StuckWindow == 0 {
		cfg.StuckWindow = 15 * time.Minute
	}
	if cfg.StalePendingWindow == 0 {
		cfg.StalePendingWindow = 24 * time.Hour
	}
	if cfg.CancelDeadline == 0 {
		cfg.CancelDeadline = 2 * time.Minute
	}
}

// GetDefaultConfig returns a Config populated entirely with defaults, used
// when no configuration file is found.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
