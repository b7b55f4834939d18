package domain

import (
	"context"

	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// SecurityContext exposes the already-resolved caller identity. Authentication
// happens before a request reaches the dispatcher.
// Implemented by ContextPrincipal.
type SecurityContext interface {
	PrincipalName() string
	GroupMemberships() []string
}

// SQLCompiler turns SQL text into a logical plan. A compile failure is
// reported as a *ValidationError carrying the diagnostic.
// Implemented by engine.Compiler.
type SQLCompiler interface {
	Compile(ctx context.Context, sql string) (*plan.Plan, error)
}

// ExecutionProvider executes a plan against a backing store. The returned
// iterator may block on I/O and must be closed by the caller.
// Implemented by engine.Executor.
type ExecutionProvider interface {
	Execute(ctx context.Context, p *plan.Plan, cfg QueryConfig) (vector.Iterator, error)
}

// SchemaProvider exposes backend metadata. GetSchema returns a
// *NotFoundError for unknown schemas; the root schema has the empty name.
// Implemented by engine.Catalog.
type SchemaProvider interface {
	ListSchemas(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, name string) (*Schema, error)
}

// AuditRepository persists access decisions.
// Implemented by repository.AuditRepo.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
}
