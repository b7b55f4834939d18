package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// Compile-time check.
var _ domain.ExecutionProvider = (*Executor)(nil)

// Executor runs Substrait plans with DuckDB's from_substrait.
type Executor struct {
	db *sql.DB
}

// NewExecutor creates an Executor. The substrait extension must be loaded.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Execute implements domain.ExecutionProvider. Rows are pulled lazily as
// the returned iterator is consumed.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, cfg domain.QueryConfig) (vector.Iterator, error) {
	blob, err := p.Encode()
	if err != nil {
		return nil, domain.ErrValidation("encode plan: %v", err)
	}
	rows, err := e.db.QueryContext(ctx, "CALL from_substrait($1::BLOB)", blob)
	if err != nil {
		return nil, fmt.Errorf("from_substrait: %w", err)
	}
	it, err := NewRowIterator(rows, cfg.RowsPerBlock())
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return it, nil
}

// NewRowIterator batches a result set into blocks of at most maxRows rows.
// Column types come from the driver's database type names. The iterator
// owns rows and closes them.
func NewRowIterator(rows *sql.Rows, maxRows int) (vector.Iterator, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	fields := make([]vector.Field, len(cols))
	for i, c := range cols {
		fields[i] = vector.Field{Name: c.Name(), Type: vector.MapDatabaseType(c.DatabaseTypeName()).Logical}
	}
	schema := vector.NewSchema(fields...)
	src := &rowSource{rows: rows, fields: fields, scan: make([]any, len(fields))}
	return vector.NewBatchIterator(schema, src, maxRows), nil
}

// rowSource adapts *sql.Rows to vector.RowSource.
type rowSource struct {
	rows   *sql.Rows
	fields []vector.Field
	scan   []any
}

func (s *rowSource) NextRow(_ context.Context, dst []any) (bool, error) {
	if !s.rows.Next() {
		return false, s.rows.Err()
	}
	ptrs := make([]any, len(s.scan))
	for i := range s.scan {
		s.scan[i] = nil
		ptrs[i] = &s.scan[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return false, fmt.Errorf("scan row: %w", err)
	}
	for i, v := range s.scan {
		nv, err := normalize(v, s.fields[i].Type)
		if err != nil {
			return false, fmt.Errorf("column %q: %w", s.fields[i].Name, err)
		}
		dst[i] = nv
	}
	return true, nil
}

func (s *rowSource) Close() error { return s.rows.Close() }

// normalize converts driver values the vector builder does not accept.
func normalize(v any, t vector.LogicalType) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case duckdb.Interval:
		d := time.Duration(x.Months)*30*24*time.Hour +
			time.Duration(x.Days)*24*time.Hour +
			time.Duration(x.Micros)*time.Microsecond
		return d, nil
	case duckdb.Map:
		if t != vector.String {
			return nil, fmt.Errorf("unsupported value %T for %s", v, t)
		}
		return fmt.Sprint(map[any]any(x)), nil
	case []any, map[string]any:
		if t != vector.String {
			return nil, fmt.Errorf("unsupported value %T for %s", v, t)
		}
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}
