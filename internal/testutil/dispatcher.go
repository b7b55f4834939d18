package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/allocator"
	"vectorgate/internal/dispatch"
	"vectorgate/internal/metrics"
	"vectorgate/internal/policy"
	"vectorgate/internal/rewrite"
)

// Fixture is a Dispatcher wired to mocks, for transport tests.
type Fixture struct {
	Dispatcher *dispatch.Dispatcher
	Executor   *MockExecutor
	Audit      *MockAuditRepo
	Metrics    *metrics.Metrics
	Policies   *policy.Store
	Cursors    *allocator.Allocator
}

// FixtureOptions tune NewFixture. The zero value serves three blocks with
// a SQL compiler and no policies.
type FixtureOptions struct {
	Blocks     int
	NoCompiler bool
	Policies   []policy.Policy
}

// NewFixture builds a Dispatcher over the orders fixture.
func NewFixture(t testing.TB, opts FixtureOptions) *Fixture {
	t.Helper()
	set, err := policy.NewSet(opts.Policies...)
	require.NoError(t, err)
	if opts.Blocks == 0 {
		opts.Blocks = 3
	}

	f := &Fixture{
		Executor: &MockExecutor{Blocks: opts.Blocks},
		Audit:    &MockAuditRepo{},
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Policies: policy.NewStore(set, nil, nil),
	}
	f.Cursors = allocator.New(allocator.Config{}, f.Metrics, nil)
	t.Cleanup(func() { _ = f.Cursors.Close() })

	deps := dispatch.Deps{
		Executor: f.Executor,
		Schemas:  NewMockSchemas(),
		Policies: f.Policies,
		Chain:    rewrite.NewChain(rewrite.NewPolicyRewriter(nil)),
		Cursors:  f.Cursors,
		Audit:    f.Audit,
		Metrics:  f.Metrics,
	}
	if !opts.NoCompiler {
		deps.Compiler = &MockCompiler{}
	}
	f.Dispatcher = dispatch.New(deps, dispatch.Config{Version: "test", MaxRowsPerBlock: 500, AdminGroups: []string{"admins"}}, nil)
	return f
}

// DenyOrders is a policy denying its members access to the orders table.
func DenyOrders(name string) policy.Policy {
	return policy.Policy{Name: name, Actions: []policy.Action{{
		Kind: policy.KindTableAccess, Verb: policy.VerbDeny, Table: OrdersTable,
	}}}
}
