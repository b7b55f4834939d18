package engine

import (
	"context"
	"database/sql"
	"fmt"

	"vectorgate/internal/domain"
	"vectorgate/internal/vector"
)

// Compile-time check.
var _ domain.SchemaProvider = (*Catalog)(nil)

// defaultSchema is DuckDB's default schema, exposed as the root schema.
const defaultSchema = "main"

// Catalog reads backend metadata from DuckDB's information_schema views,
// restricted to the current database.
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates a Catalog.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// ListSchemas implements domain.SchemaProvider. The default schema is listed
// as the root schema "".
func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT schema_name
		FROM information_schema.schemata
		WHERE catalog_name = current_database()
		  AND schema_name NOT IN ('information_schema', 'pg_catalog')
		ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, publicSchemaName(name))
	}
	return names, rows.Err()
}

// GetSchema implements domain.SchemaProvider.
func (c *Catalog) GetSchema(ctx context.Context, name string) (*domain.Schema, error) {
	backend := name
	if name == domain.RootSchema {
		backend = defaultSchema
	}

	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT count(*) > 0
		FROM information_schema.schemata
		WHERE catalog_name = current_database() AND schema_name = $1`, backend).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup schema: %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound("schema %q not found", name)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT t.table_name, c.column_name, c.ordinal_position, c.data_type, c.is_nullable
		FROM information_schema.tables t
		JOIN information_schema.columns c
		  ON c.table_catalog = t.table_catalog
		 AND c.table_schema = t.table_schema
		 AND c.table_name = t.table_name
		WHERE t.table_catalog = current_database() AND t.table_schema = $1
		ORDER BY t.table_name, c.ordinal_position`, backend)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := &domain.Schema{Name: name, Tables: []domain.Table{}}
	for rows.Next() {
		var (
			table, column, dataType, nullable string
			ordinal                           int
		)
		if err := rows.Scan(&table, &column, &ordinal, &dataType, &nullable); err != nil {
			return nil, err
		}
		if n := len(out.Tables); n == 0 || out.Tables[n-1].Name != table {
			out.Tables = append(out.Tables, domain.Table{Schema: name, Name: table})
		}
		t := &out.Tables[len(out.Tables)-1]
		t.Columns = append(t.Columns, domain.Column{
			Name:     column,
			Index:    ordinal - 1,
			Type:     vector.MapDatabaseType(dataType).Logical,
			Nullable: nullable == "YES",
		})
	}
	return out, rows.Err()
}

func publicSchemaName(backend string) string {
	if backend == defaultSchema {
		return domain.RootSchema
	}
	return backend
}
