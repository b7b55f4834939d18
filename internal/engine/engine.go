// Package engine implements the compiler, executor and schema collaborators
// on an embedded DuckDB database. SQL is compiled to Substrait with
// get_substrait and plans are executed with from_substrait.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
)

// extensionInstall maps an extension name to the statements that make it
// available. Substrait ships as a community extension.
var extensionInstall = map[string]string{
	"substrait": "INSTALL substrait FROM community; LOAD substrait;",
	"httpfs":    "INSTALL httpfs; LOAD httpfs;",
	"parquet":   "INSTALL parquet; LOAD parquet;",
}

// Open opens a DuckDB database. An empty path opens an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// InstallExtensions installs and loads the named DuckDB extensions.
func InstallExtensions(ctx context.Context, db *sql.DB, names ...string) error {
	for _, name := range names {
		stmt, ok := extensionInstall[name]
		if !ok {
			stmt = fmt.Sprintf("INSTALL %s; LOAD %s;", quoteIdentifier(name), quoteIdentifier(name))
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("extension setup (%s): %w", name, err)
		}
	}
	return nil
}
