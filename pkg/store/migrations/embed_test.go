package migrations

import (
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrationsParse(t *testing.T) {
	src, err := iofs.New(FS, ".")
	if err != nil {
		t.Fatalf("iofs.New: %v", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		t.Fatalf("expected at least one migration, got: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected first migration version 1, got %d", version)
	}

	up, identifier, err := src.ReadUp(version)
	if err != nil {
		t.Fatalf("read up migration: %v", err)
	}
	up.Close()
	if identifier == "" {
		t.Fatal("expected a non-empty migration identifier")
	}

	down, _, err := src.ReadDown(version)
	if err != nil {
		t.Fatalf("read down migration: %v", err)
	}
	down.Close()
}
