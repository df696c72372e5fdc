package config

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/api"
	apiauth "github.com/opentranscribe/mpo/pkg/api/auth"
	"github.com/opentranscribe/mpo/pkg/artifact"
	"github.com/opentranscribe/mpo/pkg/artifact/fsstore"
	artifacts3 "github.com/opentranscribe/mpo/pkg/artifact/s3"
	"github.com/opentranscribe/mpo/pkg/broker"
	"github.com/opentranscribe/mpo/pkg/broker/redisqueue"
	"github.com/opentranscribe/mpo/pkg/dispatch"
	"github.com/opentranscribe/mpo/pkg/handlers"
	"github.com/opentranscribe/mpo/pkg/index"
	"github.com/opentranscribe/mpo/pkg/ingest"
	"github.com/opentranscribe/mpo/pkg/lifecycle"
	"github.com/opentranscribe/mpo/pkg/lifecycle/checkpoint"
	"github.com/opentranscribe/mpo/pkg/llm"
	"github.com/opentranscribe/mpo/pkg/llm/anthropic"
	"github.com/opentranscribe/mpo/pkg/metrics"
	metricsprom "github.com/opentranscribe/mpo/pkg/metrics/prometheus"
	"github.com/opentranscribe/mpo/pkg/notify"
	"github.com/opentranscribe/mpo/pkg/pipeline/thumbnail"
	"github.com/opentranscribe/mpo/pkg/pipeline/transcription"
	"github.com/opentranscribe/mpo/pkg/pipeline/waveform"
	"github.com/opentranscribe/mpo/pkg/recovery"
	"github.com/opentranscribe/mpo/pkg/secret"
	"github.com/opentranscribe/mpo/pkg/settings"
	"github.com/opentranscribe/mpo/pkg/store"
)

// Components holds every long-lived object the orchestrator process
// constructs at startup, wired from a fully loaded and validated Config.
type Components struct {
	Store       *store.GORMStore
	Artifact    artifact.Gateway
	Broker      broker.Broker
	redis       *redis.Client
	Index       *index.Gateway
	Notifier    *notify.Hub
	Lifecycle   *lifecycle.Manager
	Checkpoints *checkpoint.Store
	Settings    *settings.Cache
	Dispatcher  *dispatch.Dispatcher
	Metrics     metrics.DispatchMetrics
	Recovery    *recovery.Sweeper
	Ingest      *ingest.Coordinator
	LLM         llm.Provider      // nil if cfg.LLM.Provider is unset
	APIVerifier *apiauth.Verifier // nil if auth is unconfigured
}

// Build constructs every component of the orchestrator from cfg. Callers
// own the returned Components' lifetime and must call Close when done.
func Build(ctx context.Context, cfg *Config) (*Components, error) {
	gormStore, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("wiring: open store: %w", err)
	}

	artifactGateway, err := buildArtifactGateway(ctx, &cfg.Artifact)
	if err != nil {
		return nil, fmt.Errorf("wiring: build artifact gateway: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	})
	jobBroker := redisqueue.New(rdb, cfg.Broker.KeyPrefix)

	indexGateway, err := index.New(gormStore.DB())
	if err != nil {
		return nil, fmt.Errorf("wiring: build index gateway: %w", err)
	}

	checkpoints, err := checkpoint.Open(cfg.Checkpoint.Path)
	if err != nil {
		return nil, fmt.Errorf("wiring: open checkpoint store: %w", err)
	}

	notifier := notify.New()

	// dispatch.Dispatcher needs a Reporter (the lifecycle Manager) at
	// construction time, but lifecycle.New needs the Dispatcher itself as
	// its Enqueuer. reporterProxy breaks the cycle: the dispatcher holds
	// the proxy from the start, and it's pointed at the real manager once
	// both exist.
	proxy := &reporterProxy{}
	dispatcher := dispatch.New(jobBroker, proxy, queueConfigs(cfg.Broker.Queues))

	dispatchMetrics := metricsprom.NewDispatchMetrics(prometheus.DefaultRegisterer)
	dispatcher.SetMetrics(dispatchMetrics)

	manager := lifecycle.New(gormStore, gormStore, gormStore, dispatcher, notifier)
	proxy.set(manager)

	settingsFallback := settings.Snapshot{
		TranscriptionCleanupEnabled:         transcription.DefaultCleanupConfig().Enabled,
		TranscriptionCleanupMinTokenLength:  transcription.DefaultCleanupConfig().MinTokenLength,
		TranscriptionCleanupReplacementText: transcription.DefaultCleanupConfig().ReplacementText,
	}
	settingsCache := settings.NewCache(settingsFallback)
	if err := settingsCache.Refresh(ctx, gormStore, settingsFallback); err != nil {
		logger.Warn("wiring: initial settings refresh failed, using defaults", "error", err)
	}

	sweeper := recovery.New(gormStore)
	sweeper.SetCheckpoints(checkpoints)
	sweeper.SetSettings(settingsCache, gormStore, settingsFallback)
	sweeper.SetNotifier(notifier)

	coordinator := ingest.New(gormStore, gormStore, artifactGateway, dispatcher)
	coordinator.SetLifecycle(manager)
	coordinator.SetIndex(indexGateway)

	llmProvider, err := buildLLMProvider(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("wiring: build llm provider: %w", err)
	}

	var verifier *apiauth.Verifier
	if cfg.Auth.OperatorSecret != "" {
		verifier = apiauth.NewVerifier(cfg.Auth.OperatorSecret)
	}

	// No pack dependency provides a concrete ASR/diarization backend (spec
	// Non-goal: in-process GPU inference is explicitly out of scope), so
	// Engine stays nil until an operator wires one in; handleTranscription
	// fails any transcription job with FailureModelAuth until then.
	//
	// Thumbnail stays nil for the same reason: no in-process video decoder
	// is wired, so every waveform job's thumbnail half records a
	// not_configured sidecar row rather than failing the job.
	handlers.RegisterAll(dispatcher, handlers.Deps{
		Store:                gormStore,
		Artifacts:            artifactGateway,
		Lifecycle:            manager,
		LLM:                  llmProvider,
		Index:                indexGateway,
		Checkpoints:          checkpoints,
		TranscriptionCleanup: transcription.DefaultCleanupConfig(),
		Settings:             settingsCache,
		WaveformConfig:       waveform.DefaultConfig(),
		Dispatcher:           dispatcher,
	})

	return &Components{
		Store:       gormStore,
		Artifact:    artifactGateway,
		Broker:      jobBroker,
		redis:       rdb,
		Index:       indexGateway,
		Notifier:    notifier,
		Lifecycle:   manager,
		Checkpoints: checkpoints,
		Settings:    settingsCache,
		Dispatcher:  dispatcher,
		Metrics:     dispatchMetrics,
		Recovery:    sweeper,
		Ingest:      coordinator,
		LLM:         llmProvider,
		APIVerifier: verifier,
	}, nil
}

// APIDeps adapts Components into the internal operator API's Deps struct.
func (c *Components) APIDeps() api.Deps {
	return api.Deps{
		Store:    c.Store,
		Broker:   c.Broker,
		Sweeper:  c.Recovery,
		Files:    c.Ingest,
		Verifier: c.APIVerifier,
	}
}

// Close releases every component that holds a network connection or file
// handle. Safe to call once after Build succeeds.
func (c *Components) Close() error {
	var firstErr error
	if err := c.Store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close store: %w", err)
	}
	if err := c.redis.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close redis: %w", err)
	}
	if err := c.Checkpoints.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close checkpoint store: %w", err)
	}
	return firstErr
}

func buildArtifactGateway(ctx context.Context, cfg *ArtifactConfig) (artifact.Gateway, error) {
	switch cfg.Backend {
	case "s3":
		return artifacts3.NewFromConfig(ctx, artifacts3.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			KeyPrefix:      cfg.S3.KeyPrefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	case "fs":
		return fsstore.New(cfg.FS.BasePath)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

func queueConfigs(queues []QueueConfig) []dispatch.QueueConfig {
	out := make([]dispatch.QueueConfig, len(queues))
	for i, q := range queues {
		out[i] = dispatch.QueueConfig{Queue: q.Queue, Concurrency: q.Concurrency, Visibility: q.Visibility}
	}
	return out
}

// buildLLMProvider returns nil, nil when no provider is configured; callers
// must treat a nil llm.Provider as "summarization/analytics disabled"
// rather than an error.
func buildLLMProvider(cfg *LLMConfig) (llm.Provider, error) {
	if cfg.Provider == "" {
		return nil, nil
	}

	apiKey := cfg.EncryptedAPIKey
	if cfg.SecretboxKeyPath != "" {
		key, err := secret.LoadKey(cfg.SecretboxKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load secretbox key: %w", err)
		}
		decrypted, err := secret.Decrypt(key, cfg.EncryptedAPIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt llm api key: %w", err)
		}
		apiKey = decrypted
	}

	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// reporterProxy forwards dispatch.Reporter calls to a target set after
// construction, resolving the dispatcher/lifecycle-manager construction
// cycle without either package depending on the other's concrete type.
type reporterProxy struct {
	target dispatch.Reporter
}

func (p *reporterProxy) set(r dispatch.Reporter) { p.target = r }

func (p *reporterProxy) Started(ctx context.Context, job dispatch.Job) error {
	if p.target == nil {
		logger.Warn("dispatch: reporter not yet wired, dropping Started", "job_id", job.ID)
		return nil
	}
	return p.target.Started(ctx, job)
}

func (p *reporterProxy) Progress(ctx context.Context, job dispatch.Job, fraction float64) error {
	if p.target == nil {
		return nil
	}
	return p.target.Progress(ctx, job, fraction)
}

func (p *reporterProxy) Succeeded(ctx context.Context, job dispatch.Job) error {
	if p.target == nil {
		logger.Warn("dispatch: reporter not yet wired, dropping Succeeded", "job_id", job.ID)
		return nil
	}
	return p.target.Succeeded(ctx, job)
}

func (p *reporterProxy) Failed(ctx context.Context, job dispatch.Job, err error, retryable bool) error {
	if p.target == nil {
		logger.Warn("dispatch: reporter not yet wired, dropping Failed", "job_id", job.ID)
		return nil
	}
	return p.target.Failed(ctx, job, err, retryable)
}

var _ dispatch.Reporter = (*reporterProxy)(nil)
