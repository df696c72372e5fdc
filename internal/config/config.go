package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/opentranscribe/mpo/internal/bytesize"
	"github.com/opentranscribe/mpo/pkg/api"
	"github.com/opentranscribe/mpo/pkg/store"
)

// Config is the orchestrator's static configuration.
//
// Dynamic state (media files, tasks, transcripts) lives in the metadata
// store, not here.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OTX_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the metadata store (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the internal operator HTTP server configuration
	// (health/ready/metrics/recovery-trigger — never a public REST API).
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Auth configures the operator bearer-token secret used to guard the
	// recovery-trigger endpoint.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Broker configures the Redis-backed job queue.
	Broker BrokerConfig `mapstructure:"broker" yaml:"broker"`

	// Artifact configures where media file bytes and derived artifacts
	// (transcripts, summaries, waveforms, thumbnails) are stored.
	Artifact ArtifactConfig `mapstructure:"artifact" yaml:"artifact"`

	// LLM configures the summarization/analytics pipelines' language model
	// provider.
	LLM LLMConfig `mapstructure:"llm" yaml:"llm"`

	// Checkpoint configures the Task Lifecycle Manager's local
	// checkpoint/dedup-state cache.
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`

	// Recovery configures the reaper's sweep windows and interval.
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. Trace data
// is exported to an OTLP-compatible collector (e.g. Jaeger, Tempo).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling of the worker
// pool. Carried as an ambient concern even though the spec doesn't ask for
// it, matching the teacher's own TelemetryConfig.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profile types to collect.
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics registry.
type MetricsConfig struct {
	// Enabled controls whether dispatcher/queue metrics are collected.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// AuthConfig configures the operator bearer-token verifier.
type AuthConfig struct {
	// OperatorSecret is the shared HMAC secret used to sign and verify
	// operator tokens. Required whenever API.Enabled is true.
	OperatorSecret string `mapstructure:"operator_secret" yaml:"operator_secret,omitempty"`
}

// BrokerConfig configures the Redis-backed job broker.
type BrokerConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `mapstructure:"addr" validate:"required" yaml:"addr"`

	// Password authenticates to Redis, if required.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// DB selects the Redis logical database.
	DB int `mapstructure:"db" yaml:"db"`

	// KeyPrefix namespaces all broker keys (queue/processing/deadline/job).
	// Default: "mpo".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// Queues configures per-queue worker concurrency and visibility timeout.
	Queues []QueueConfig `mapstructure:"queues" yaml:"queues"`
}

// QueueConfig sets the worker concurrency and redelivery visibility window
// for a single named queue (gpu, cpu, nlp, download, utility).
type QueueConfig struct {
	Queue       string        `mapstructure:"queue" validate:"required" yaml:"queue"`
	Concurrency int           `mapstructure:"concurrency" validate:"omitempty,gt=0" yaml:"concurrency"`
	Visibility  time.Duration `mapstructure:"visibility" yaml:"visibility"`
}

// ArtifactConfig configures the Artifact Store Gateway backend.
type ArtifactConfig struct {
	// Backend selects which implementation to use: "fs" or "s3".
	Backend string `mapstructure:"backend" validate:"required,oneof=fs s3" yaml:"backend"`

	FS FSArtifactConfig `mapstructure:"fs" yaml:"fs"`
	S3 S3ArtifactConfig `mapstructure:"s3" yaml:"s3"`
}

// FSArtifactConfig configures the local-disk artifact backend (dev/test).
type FSArtifactConfig struct {
	// BasePath is the directory artifacts are stored under.
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// S3ArtifactConfig configures the S3 artifact backend.
type S3ArtifactConfig struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to all keys, e.g. "media/".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle is required for S3-compatible services (MinIO, Localstack).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// LLMConfig configures the summarization/analytics pipelines' language
// model provider.
type LLMConfig struct {
	// Provider selects the concrete backend. Currently only "anthropic".
	// Empty disables the provider (summaries report "not configured").
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=anthropic" yaml:"provider,omitempty"`

	// Model is the provider-specific model identifier.
	Model string `mapstructure:"model" yaml:"model,omitempty"`

	// EncryptedAPIKey is the provider API key, encrypted at rest with
	// golang.org/x/crypto/nacl/secretbox (spec §4.7: "encrypted secret").
	// Decrypted in-memory once at startup with the key read from
	// SecretboxKeyPath; when SecretboxKeyPath is empty the value is used as-is.
	EncryptedAPIKey string `mapstructure:"encrypted_api_key" yaml:"encrypted_api_key,omitempty"`

	// SecretboxKeyPath points at a file holding the 32-byte secretbox key
	// used to decrypt EncryptedAPIKey. Kept out of the config file itself.
	SecretboxKeyPath string `mapstructure:"secretbox_key_path" yaml:"secretbox_key_path,omitempty"`
}

// CheckpointConfig configures the Task Lifecycle Manager's local
// checkpoint/dedup-state cache (badger).
type CheckpointConfig struct {
	// Path is the directory the badger database is stored under.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// RecoveryConfig configures the Recovery Reaper's sweep behavior.
type RecoveryConfig struct {
	// Interval is how often the reaper runs an automatic sweep.
	// Default: 1m.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// StuckWindow is how long a Processing file can go without a progress
	// update before it's considered orphaned.
	// Default: 15m.
	StuckWindow time.Duration `mapstructure:"stuck_window" yaml:"stuck_window"`

	// StalePendingWindow is how long an upload can sit without completing
	// before it's eligible for cleanup.
	// Default: 24h.
	StalePendingWindow time.Duration `mapstructure:"stale_pending_window" yaml:"stale_pending_window"`

	// CancelDeadline is how long a Cancelling file may wait for its worker
	// to acknowledge before being force-finalized.
	// Default: 2m.
	CancelDeadline time.Duration `mapstructure:"cancel_deadline" yaml:"cancel_deadline"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (OTX_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when no config
// file can be found.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create one, or specify a custom config file:\n"+
				"  otx-orchestrator start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format, using restricted permissions since the file may contain secrets.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the OTX_ prefix and underscores.
	// Example: OTX_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("OTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// enabling config files to use human-readable sizes like "1Gi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, enabling config
// files to use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, using
// XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to "." if the
// home directory can't be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "opentranscribe")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "opentranscribe")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
