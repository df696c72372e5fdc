// Package migrations embeds the versioned PostgreSQL migrations golang-migrate
// applies on top of GORM's AutoMigrate-created schema: indexes and extensions
// that GORM struct tags can't express.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
