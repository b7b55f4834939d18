// Package dispatch is the protocol-neutral front of the service. Every
// transport decodes its request, attaches the caller to the context and
// calls one Dispatcher method.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"vectorgate/internal/allocator"
	"vectorgate/internal/domain"
	"vectorgate/internal/metrics"
	"vectorgate/internal/plan"
	"vectorgate/internal/policy"
	"vectorgate/internal/rewrite"
)

// DefaultMaxConcurrent bounds executing queries when Config sets no limit.
const DefaultMaxConcurrent = 16

// Config holds dispatcher settings.
type Config struct {
	// Version is reported by Handshake.
	Version string
	// MaxRowsPerBlock caps the block size a request may ask for.
	MaxRowsPerBlock int
	// MaxConcurrent bounds concurrently executing queries.
	MaxConcurrent int64
	// AdminGroups may list the audit entries of every principal.
	AdminGroups []string
}

// Deps are the collaborators of a Dispatcher. Compiler, Audit and Metrics
// are optional.
type Deps struct {
	Compiler domain.SQLCompiler
	Executor domain.ExecutionProvider
	Schemas  domain.SchemaProvider
	Policies *policy.Store
	Chain    *rewrite.Chain
	Cursors  *allocator.Allocator
	Audit    domain.AuditRepository
	Metrics  *metrics.Metrics
}

// Dispatcher routes requests to the compiler, the rewrite chain, the
// executor and the result allocator.
type Dispatcher struct {
	deps   Deps
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRowsPerBlock <= 0 {
		cfg.MaxRowsPerBlock = domain.DefaultMaxRowsPerBlock
	}
	if deps.Chain == nil {
		deps.Chain = rewrite.NewChain()
	}
	if deps.Policies == nil {
		deps.Policies = policy.NewStore(nil, nil, logger)
	}
	return &Dispatcher{
		deps:   deps,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger.With("component", "dispatcher"),
	}
}

// Handshake reports the capabilities of this deployment to the caller.
func (d *Dispatcher) Handshake(ctx context.Context) (domain.Capabilities, error) {
	sc := domain.SecurityContextFrom(ctx)
	return domain.Capabilities{
		SupportSQL:      d.deps.Compiler != nil,
		Principal:       sc.PrincipalName(),
		Version:         d.cfg.Version,
		MaxRowsPerBlock: d.cfg.MaxRowsPerBlock,
	}, nil
}

// ListSchemas returns the schema names of the backend.
func (d *Dispatcher) ListSchemas(ctx context.Context) ([]string, error) {
	names, err := d.deps.Schemas.ListSchemas(ctx)
	if err != nil {
		return nil, d.classify("list schemas", err)
	}
	return names, nil
}

// GetSchema returns one schema. The root schema has the empty name.
func (d *Dispatcher) GetSchema(ctx context.Context, name string) (*domain.Schema, error) {
	s, err := d.deps.Schemas.GetSchema(ctx, name)
	if err != nil {
		return nil, d.classify("get schema", err)
	}
	return s, nil
}

// ParseSQL compiles sql into a plan without rewriting or executing it.
func (d *Dispatcher) ParseSQL(ctx context.Context, sql string) (*plan.Plan, error) {
	p, err := d.compile(ctx, sql)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EvaluatePolicy reports what the current policy set allows the caller on
// one table.
func (d *Dispatcher) EvaluatePolicy(ctx context.Context, table []string, columns []string) (policy.TableResult, error) {
	if len(table) == 0 {
		return policy.TableResult{}, domain.ErrValidation("table is required")
	}
	sc := domain.SecurityContextFrom(ctx)
	return d.deps.Policies.Current().Evaluate(sc.GroupMemberships(), table, columns), nil
}

func (d *Dispatcher) compile(ctx context.Context, sql string) (*plan.Plan, error) {
	if d.deps.Compiler == nil {
		return nil, domain.ErrNotImplemented("SQL is not supported by this deployment")
	}
	if strings.TrimSpace(sql) == "" {
		return nil, domain.ErrValidation("sql query is required")
	}
	p, err := d.deps.Compiler.Compile(ctx, sql)
	if err != nil {
		return nil, d.classify("compile", err)
	}
	return p, nil
}

// rowsPerBlock clamps the requested block size to the server limit.
func (d *Dispatcher) rowsPerBlock(cfg domain.QueryConfig) domain.QueryConfig {
	if n := cfg.RowsPerBlock(); n > d.cfg.MaxRowsPerBlock {
		cfg.MaxRowsPerBlock = d.cfg.MaxRowsPerBlock
	} else {
		cfg.MaxRowsPerBlock = n
	}
	return cfg
}

// classify passes client-facing errors through and turns everything else
// into an InternalError whose cause stays in the log.
func (d *Dispatcher) classify(op string, err error) error {
	var (
		notFound *domain.NotFoundError
		denied   *domain.AccessDeniedError
		invalid  *domain.ValidationError
		notImpl  *domain.NotImplementedError
		internal *domain.InternalError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &denied), errors.As(err, &invalid),
		errors.As(err, &notImpl), errors.As(err, &internal):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	d.logger.Error("operation failed", "operation", op, "error", err)
	return domain.ErrInternal(err, "%s failed", op)
}
