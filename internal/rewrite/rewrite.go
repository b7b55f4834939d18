// Package rewrite applies an ordered chain of plan rewriters before a plan
// is executed.
package rewrite

import (
	"context"
	"slices"
	"sync"

	"vectorgate/internal/plan"
	"vectorgate/internal/policy"
)

// Context carries the caller and the policy snapshot a rewrite runs against.
type Context struct {
	Principal string
	Groups    []string
	Policies  *policy.Set

	// Recorder, when set, receives one Decision per table read.
	Recorder DecisionRecorder
}

func (c *Context) policies() *policy.Set {
	if c == nil || c.Policies == nil {
		return policy.Empty()
	}
	return c.Policies
}

func (c *Context) groups() []string {
	if c == nil {
		return nil
	}
	return c.Groups
}

func (c *Context) record(d Decision) {
	if c != nil && c.Recorder != nil {
		c.Recorder.Record(d)
	}
}

// PlanRewriter transforms a plan. Implementations must not mutate the input
// plan and must be safe for concurrent use.
type PlanRewriter interface {
	Rewrite(ctx context.Context, p *plan.Plan, rc *Context) (*plan.Plan, error)
}

// Func adapts a function to PlanRewriter.
type Func func(ctx context.Context, p *plan.Plan, rc *Context) (*plan.Plan, error)

// Rewrite calls f.
func (f Func) Rewrite(ctx context.Context, p *plan.Plan, rc *Context) (*plan.Plan, error) {
	return f(ctx, p, rc)
}

// Chain is an immutable ordered list of rewriters. An empty chain returns
// its input unchanged.
type Chain struct {
	rewriters []PlanRewriter
}

// NewChain creates a chain applying rewriters in order.
func NewChain(rewriters ...PlanRewriter) *Chain {
	return &Chain{rewriters: slices.Clone(rewriters)}
}

// Append returns a new chain with rewriters added at the end.
func (c *Chain) Append(rewriters ...PlanRewriter) *Chain {
	out := make([]PlanRewriter, 0, len(c.rewriters)+len(rewriters))
	out = append(out, c.rewriters...)
	out = append(out, rewriters...)
	return &Chain{rewriters: out}
}

// Len returns the number of rewriters.
func (c *Chain) Len() int { return len(c.rewriters) }

// Rewrite runs every rewriter in order, feeding each the previous output.
func (c *Chain) Rewrite(ctx context.Context, p *plan.Plan, rc *Context) (*plan.Plan, error) {
	cur := p
	for _, r := range c.rewriters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := r.Rewrite(ctx, cur, rc)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Decision describes what the policy rewriter did to one table read.
type Decision struct {
	Table      []string        `json:"table"`
	Access     policy.Decision `json:"access"`
	RowFilters []string        `json:"rowFilters,omitempty"` // policy names
	Masked     []string        `json:"masked,omitempty"`     // column names
	Reason     string          `json:"reason,omitempty"`
}

// DecisionRecorder receives rewrite decisions.
type DecisionRecorder interface {
	Record(d Decision)
}

// DecisionLog collects decisions in memory. Safe for concurrent use.
type DecisionLog struct {
	mu        sync.Mutex
	decisions []Decision
}

// Record appends d.
func (l *DecisionLog) Record(d Decision) {
	l.mu.Lock()
	l.decisions = append(l.decisions, d)
	l.mu.Unlock()
}

// Decisions returns a copy of the recorded decisions.
func (l *DecisionLog) Decisions() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.decisions)
}
