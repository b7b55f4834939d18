// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// === Fixtures ===

// OrdersTable is the qualified name of the fixture table.
var OrdersTable = []string{"sales", "orders"}

// OrdersSQL compiles to OrdersPlan with MockCompiler.
const OrdersSQL = "SELECT * FROM sales.orders"

// OrdersSchema is the output schema of OrdersPlan.
var OrdersSchema = vector.NewSchema(
	vector.Field{Name: "id", Type: vector.Int},
	vector.Field{Name: "region", Type: vector.String},
)

// OrdersPlan returns a plan scanning sales.orders.
func OrdersPlan() *plan.Plan {
	p, err := plan.ScanTable(OrdersTable,
		plan.Column{Name: "id", Type: vector.Int},
		plan.Column{Name: "region", Type: vector.String},
	)
	if err != nil {
		panic(err)
	}
	return p
}

// OrdersBlocks returns n single-row blocks with ids 0..n-1.
func OrdersBlocks(n int) []*vector.Block {
	regions := []string{"EU", "US"}
	blocks := make([]*vector.Block, 0, n)
	for i := 0; i < n; i++ {
		b := vector.NewBuilder(OrdersSchema)
		if err := b.AppendRow(int32(i), regions[i%len(regions)]); err != nil {
			panic(err)
		}
		blk, _ := b.Flush()
		blocks = append(blocks, blk)
	}
	return blocks
}

// === Compiler Mock ===

// MockCompiler implements domain.SQLCompiler. Without CompileFn it knows
// OrdersSQL and rejects everything else with a validation error.
type MockCompiler struct {
	CompileFn func(ctx context.Context, sql string) (*plan.Plan, error)
}

// Compile implements the interface method for testing.
func (m *MockCompiler) Compile(ctx context.Context, sql string) (*plan.Plan, error) {
	if m.CompileFn != nil {
		return m.CompileFn(ctx, sql)
	}
	if sql == OrdersSQL {
		return OrdersPlan(), nil
	}
	return nil, domain.ErrValidation("Parser Error: syntax error at or near %q", sql)
}

// === Executor Mock ===

// MockExecutor implements domain.ExecutionProvider. Without ExecuteFn it
// returns Blocks fixture blocks and records every plan it runs.
type MockExecutor struct {
	ExecuteFn func(ctx context.Context, p *plan.Plan, cfg domain.QueryConfig) (vector.Iterator, error)
	Blocks    int

	mu    sync.Mutex
	plans []*plan.Plan
}

// Execute implements the interface method for testing.
func (m *MockExecutor) Execute(ctx context.Context, p *plan.Plan, cfg domain.QueryConfig) (vector.Iterator, error) {
	m.mu.Lock()
	m.plans = append(m.plans, p)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, p, cfg)
	}
	return vector.NewSliceIterator(OrdersSchema, OrdersBlocks(m.Blocks)...), nil
}

// Plans returns the plans executed so far.
func (m *MockExecutor) Plans() []*plan.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*plan.Plan(nil), m.plans...)
}

// === Schema Provider Mock ===

// MockSchemas implements domain.SchemaProvider over a fixed map.
type MockSchemas struct {
	Schemas map[string]*domain.Schema
	Err     error
}

// NewMockSchemas serves the root schema and sales with the orders table.
func NewMockSchemas() *MockSchemas {
	return &MockSchemas{Schemas: map[string]*domain.Schema{
		domain.RootSchema: {Name: domain.RootSchema, Tables: []domain.Table{}},
		"sales": {Name: "sales", Tables: []domain.Table{{
			Schema: "sales",
			Name:   "orders",
			Columns: []domain.Column{
				{Name: "id", Index: 0, Type: vector.Int},
				{Name: "region", Index: 1, Type: vector.String, Nullable: true},
			},
		}}},
	}}
}

// ListSchemas implements the interface method for testing.
func (m *MockSchemas) ListSchemas(context.Context) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	names := make([]string, 0, len(m.Schemas))
	for _, name := range []string{domain.RootSchema, "sales"} {
		if _, ok := m.Schemas[name]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// GetSchema implements the interface method for testing.
func (m *MockSchemas) GetSchema(_ context.Context, name string) (*domain.Schema, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.Schemas[name]
	if !ok {
		return nil, domain.ErrNotFound("schema %q not found", name)
	}
	return s, nil
}

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	InsertFn func(ctx context.Context, e *domain.AuditEntry) error

	mu         sync.Mutex
	Entries    []*domain.AuditEntry // collected entries for assertions
	LastFilter domain.AuditFilter
}

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Entries = append(m.Entries, e)
	m.mu.Unlock()
	return nil
}

// List implements the interface method for testing. Filters apply; entries
// come back in insertion order.
func (m *MockAuditRepo) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastFilter = f
	match := func(want *string, got string) bool { return want == nil || *want == got }
	var all []domain.AuditEntry
	for _, e := range m.Entries {
		if match(f.PrincipalName, e.PrincipalName) && match(f.Action, e.Action) && match(f.Status, e.Status) {
			all = append(all, *e)
		}
	}
	total := int64(len(all))
	lo := min(f.Page.Offset(), len(all))
	hi := min(lo+f.Page.Limit(), len(all))
	return all[lo:hi], total, nil
}

// LastEntry returns the last collected audit entry, or nil if none.
func (m *MockAuditRepo) LastEntry() *domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

// HasAction returns true if any collected entry has the given action.
func (m *MockAuditRepo) HasAction(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Action == action {
			return true
		}
	}
	return false
}
