package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opentranscribe/mpo/internal/config"
	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the metadata store.

This command applies the metadata store's schema to the configured database
(SQLite or PostgreSQL). GORM's AutoMigrate creates and updates tables and
columns; for PostgreSQL a second, versioned pass then applies the
golang-migrate migrations under pkg/store/migrations (trigram search
indexes and the pg_trgm extension) that AutoMigrate's struct tags can't
express. Both passes are safe to run repeatedly.

Examples:
  # Run migrations with default config
  otx-orchestrator migrate

  # Run migrations with a custom config file
  otx-orchestrator migrate --config /etc/opentranscribe/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("running metadata store migrations", "type", cfg.Database.Type)

	ctx := context.Background()
	metaStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = metaStore.Close() }()

	if err := metaStore.Healthcheck(ctx); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
