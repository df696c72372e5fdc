package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opentranscribe/mpo/internal/config"
	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/internal/telemetry"
	"github.com/opentranscribe/mpo/pkg/api"
	"github.com/opentranscribe/mpo/pkg/recovery"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orchestrator",
	Long: `Start the orchestrator: the internal operator API, the job dispatcher's
worker pools, and the recovery reaper's periodic sweep.

Use --config to point at a configuration file, or it will use the default
location at $XDG_CONFIG_HOME/opentranscribe/config.yaml.

Examples:
  # Start with default config
  otx-orchestrator start

  # Start with a custom config file
  otx-orchestrator start --config /etc/opentranscribe/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "otx-orchestrator",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "otx-orchestrator",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("profiling disabled")
	}

	components, err := config.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("component shutdown error", "error", err)
		}
	}()

	logger.Info("components wired",
		"artifact_backend", cfg.Artifact.Backend,
		"database_type", cfg.Database.Type,
		"llm_provider", cfg.LLM.Provider,
		"queues", len(cfg.Broker.Queues),
	)

	apiServer := api.NewServer(cfg.API, components.APIDeps())

	apiDone := make(chan error, 1)
	go func() {
		apiDone <- apiServer.Start(ctx)
	}()

	dispatchDone := make(chan error, 1)
	go func() {
		dispatchDone <- components.Dispatcher.Run(ctx)
	}()

	go components.Recovery.Run(ctx, cfg.Recovery.Interval, &recovery.Options{
		StuckWindow:        cfg.Recovery.StuckWindow,
		StalePendingWindow: cfg.Recovery.StalePendingWindow,
		CancelDeadline:     cfg.Recovery.CancelDeadline,
	})

	watchedConfigPath := GetConfigFile()
	if watchedConfigPath == "" {
		watchedConfigPath = config.GetDefaultConfigPath()
	}
	if err := config.WatchFile(ctx, watchedConfigPath, func(reloaded *config.Config, err error) {
		if err != nil {
			logger.Warn("config: reload failed, keeping previous settings", "error", err)
			return
		}
		if err := InitLogger(reloaded); err != nil {
			logger.Warn("config: failed to apply reloaded logging settings", "error", err)
		}
		components.Recovery.SetOptions(&recovery.Options{
			StuckWindow:        reloaded.Recovery.StuckWindow,
			StalePendingWindow: reloaded.Recovery.StalePendingWindow,
			CancelDeadline:     reloaded.Recovery.CancelDeadline,
		})
		logger.Info("config: reloaded", "path", watchedConfigPath)
	}); err != nil {
		logger.Warn("config: settings reload disabled, watcher setup failed", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("orchestrator is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		<-apiDone
		<-dispatchDone
		logger.Info("orchestrator stopped gracefully")
	case err := <-apiDone:
		signal.Stop(sigChan)
		cancel()
		<-dispatchDone
		if err != nil {
			logger.Error("API server error", "error", err)
			return err
		}
	case err := <-dispatchDone:
		signal.Stop(sigChan)
		cancel()
		<-apiDone
		if err != nil {
			logger.Error("dispatcher error", "error", err)
			return err
		}
	}

	return nil
}
