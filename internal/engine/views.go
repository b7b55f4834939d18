package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"strings"
)

// ExternalView exposes files (local or s3://) as a backend table.
type ExternalView struct {
	Schema string
	Name   string
	Path   string
	Format string // parquet or csv; inferred from Path when empty
}

// ParseExternalViews parses a comma separated list of
// schema.table=path entries, e.g. "sales.orders=s3://lake/orders/*.parquet".
// A table without a schema goes to the root schema.
func ParseExternalViews(list string) ([]ExternalView, error) {
	var views []ExternalView
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, src, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("external view %q: expected schema.table=path", entry)
		}
		v := ExternalView{Name: strings.TrimSpace(name), Path: strings.TrimSpace(src)}
		if schema, table, ok := strings.Cut(v.Name, "."); ok {
			v.Schema, v.Name = schema, table
		}
		if v.Name == "" {
			return nil, fmt.Errorf("external view %q: table name is required", entry)
		}
		views = append(views, v)
	}
	return views, nil
}

func (v ExternalView) readFunc() (string, error) {
	format := strings.ToLower(v.Format)
	if format == "" {
		switch strings.ToLower(path.Ext(v.Path)) {
		case ".csv", ".tsv":
			format = "csv"
		default:
			format = "parquet"
		}
	}
	switch format {
	case "parquet":
		return "read_parquet", nil
	case "csv":
		return "read_csv_auto", nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", v.Format)
	}
}

func (v ExternalView) statements() ([]string, error) {
	fn, err := v.readFunc()
	if err != nil {
		return nil, err
	}
	schema := v.Schema
	if schema == "" {
		schema = defaultSchema
	}
	return []string{
		"CREATE SCHEMA IF NOT EXISTS " + quoteIdentifier(schema),
		fmt.Sprintf("CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM %s(%s)",
			quoteIdentifier(schema), quoteIdentifier(v.Name), fn, quoteLiteral(v.Path)),
	}, nil
}

// CreateExternalViews (re)creates one view per entry. Views live in the
// DuckDB process and are lost on restart, so this runs at startup. Failing
// entries are skipped and reported together.
func CreateExternalViews(ctx context.Context, db *sql.DB, views []ExternalView) (int, error) {
	created := 0
	var failed []string
	for _, v := range views {
		stmts, err := v.statements()
		if err == nil {
			for _, stmt := range stmts {
				if _, err = db.ExecContext(ctx, stmt); err != nil {
					break
				}
			}
		}
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s.%s: %v", v.Schema, v.Name, err))
			continue
		}
		created++
	}
	if len(failed) > 0 {
		return created, fmt.Errorf("create external views: %s", strings.Join(failed, "; "))
	}
	return created, nil
}
