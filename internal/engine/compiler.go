package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
)

// Compile-time check.
var _ domain.SQLCompiler = (*Compiler)(nil)

// Compiler turns SQL into a Substrait plan with DuckDB's get_substrait.
type Compiler struct {
	db *sql.DB
}

// NewCompiler creates a Compiler. The substrait extension must be loaded.
func NewCompiler(db *sql.DB) *Compiler {
	return &Compiler{db: db}
}

// Compile implements domain.SQLCompiler. Parser and binder errors are
// returned as a ValidationError carrying DuckDB's diagnostic.
func (c *Compiler) Compile(ctx context.Context, sqlQuery string) (*plan.Plan, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, "CALL get_substrait($1)", sqlQuery).Scan(&blob)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.ErrValidation("query produced no plan")
	case err != nil:
		return nil, domain.ErrValidation("%s", diagnostic(err))
	}
	p, err := plan.Decode(blob)
	if err != nil {
		return nil, domain.ErrValidation("decode plan: %v", err)
	}
	return p, nil
}

// diagnostic strips the driver's prefix from a DuckDB error message.
func diagnostic(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"get_substrait: ", "duckdb: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
