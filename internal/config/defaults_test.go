package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsLogging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestApplyDefaultsNormalizesLogLevelCase(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestApplyDefaultsShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestApplyDefaultsTelemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Equal(t, "http://localhost:4040", cfg.Telemetry.Profiling.Endpoint)
	assert.NotEmpty(t, cfg.Telemetry.Profiling.ProfileTypes)
}

func TestApplyDefaultsDatabase(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "sqlite", string(cfg.Database.Type))
	assert.NotEmpty(t, cfg.Database.SQLite.Path)
}

func TestApplyDefaultsAPI(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 10*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.API.IdleTimeout)
}

func TestApplyDefaultsBrokerFillsAllQueueClasses(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, "mpo", cfg.Broker.KeyPrefix)
	assert.Len(t, cfg.Broker.Queues, 5)
	for _, q := range cfg.Broker.Queues {
		assert.NotZero(t, q.Concurrency)
		assert.NotZero(t, q.Visibility)
	}
}

func TestApplyDefaultsBrokerPreservesExplicitQueueConcurrency(t *testing.T) {
	cfg := &Config{Broker: BrokerConfig{
		Queues: []QueueConfig{{Queue: "gpu", Concurrency: 7}},
	}}
	ApplyDefaults(cfg)

	assert.Equal(t, 7, cfg.Broker.Queues[0].Concurrency)
	assert.NotZero(t, cfg.Broker.Queues[0].Visibility)
}

func TestApplyDefaultsArtifactFSBackend(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "fs", cfg.Artifact.Backend)
	assert.NotEmpty(t, cfg.Artifact.FS.BasePath)
}

func TestApplyDefaultsArtifactS3BackendRegion(t *testing.T) {
	cfg := &Config{Artifact: ArtifactConfig{Backend: "s3"}}
	ApplyDefaults(cfg)

	assert.Equal(t, "us-east-1", cfg.Artifact.S3.Region)
}

func TestApplyDefaultsCheckpoint(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.NotEmpty(t, cfg.Checkpoint.Path)
}

func TestApplyDefaultsRecovery(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, time.Minute, cfg.Recovery.Interval)
	assert.Equal(t, 15*time.Minute, cfg.Recovery.StuckWindow)
	assert.Equal(t, 24*time.Hour, cfg.Recovery.StalePendingWindow)
	assert.Equal(t, 2*time.Minute, cfg.Recovery.CancelDeadline)
}

func TestGetDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Auth.OperatorSecret = "test-secret"

	assert.NoError(t, Validate(cfg))
}
