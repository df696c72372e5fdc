package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/store/migrations"
)

// runVersionedMigrations applies the embedded golang-migrate migrations on
// top of whatever AutoMigrate already created. These cover schema features
// AutoMigrate's struct tags can't express (extensions, trigram indexes);
// AutoMigrate still owns table/column creation. SQLite has no equivalent
// step: pg_trgm and GIN indexes are PostgreSQL-specific, and a single-node
// SQLite deployment has no concurrent-migration race to guard against in
// the first place.
func runVersionedMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	// golang-migrate takes a PostgreSQL advisory lock around Up, so
	// concurrently starting orchestrator instances don't race each other.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		logger.Warn("store: migration schema is dirty, manual intervention may be required", "version", version)
	}

	return nil
}
