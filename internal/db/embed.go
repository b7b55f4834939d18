package db

import "embed"

// EmbedMigrations holds the audit store's goose migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
