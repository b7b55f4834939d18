package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/rewrite"
	"vectorgate/internal/vector"
)

// Sink receives streamed blocks. Returning an error stops the stream.
type Sink func(b *vector.Block) error

// Operation names used for metrics and audit.
const (
	opSubmit   = "submit"
	opExecSQL  = "exec_sql"
	opExecPlan = "exec_plan"
	opFetch    = "fetch"
)

var auditActions = map[string]string{
	opSubmit:   "SUBMIT",
	opExecSQL:  "EXEC_SQL",
	opExecPlan: "EXEC_PLAN",
}

// SubmitQuery rewrites and executes a query, parks the result behind a
// paging ID and returns the first page.
func (d *Dispatcher) SubmitQuery(ctx context.Context, req domain.QueryRequest) (domain.SubmitResult, error) {
	r := d.newRun(ctx, opSubmit, req.SQL)
	res, err := d.submit(ctx, r, req)
	return res, r.finish(ctx, err)
}

func (d *Dispatcher) submit(ctx context.Context, r *run, req domain.QueryRequest) (domain.SubmitResult, error) {
	if req.Plan != nil && req.SQL != "" {
		return domain.SubmitResult{}, domain.ErrValidation("exactly one of sql and plan must be set")
	}
	p := req.Plan
	if p == nil {
		var err error
		if p, err = d.compile(ctx, req.SQL); err != nil {
			return domain.SubmitResult{}, err
		}
	}

	release, err := d.acquire(ctx)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	defer release()

	// The cursor outlives this request, so execution must not be tied to
	// the request's cancellation.
	it, err := d.open(context.WithoutCancel(ctx), r, p, req.Config)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	id, err := d.deps.Cursors.Allocate(it)
	if err != nil {
		_ = it.Close()
		return domain.SubmitResult{}, err
	}
	page, err := d.deps.Cursors.Next(ctx, id)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if !page.Exists {
		return domain.SubmitResult{}, nil
	}
	r.rows += int64(page.Block.RowCount)
	return domain.SubmitResult{PagingID: page.NextID, Block: page.Block}, nil
}

// FetchResult returns the next page behind id. Unknown, expired and
// exhausted IDs yield an empty result.
func (d *Dispatcher) FetchResult(ctx context.Context, id string) (domain.FetchResult, error) {
	start := time.Now()
	if id == "" {
		return domain.FetchResult{}, domain.ErrValidation("paging id is required")
	}
	page, err := d.deps.Cursors.Next(ctx, id)
	d.observe(opFetch, start, err)
	if err != nil {
		return domain.FetchResult{}, d.classify("fetch result", err)
	}
	if !page.Exists {
		return domain.FetchResult{}, nil
	}
	if m := d.deps.Metrics; m != nil {
		m.RowsReturned.Add(float64(page.Block.RowCount))
	}
	return domain.FetchResult{Block: page.Block, NextPagingID: page.NextID}, nil
}

// ReleaseResult closes the cursor behind id before it is exhausted. Unknown
// ids are ignored.
func (d *Dispatcher) ReleaseResult(_ context.Context, id string) error {
	if id == "" {
		return domain.ErrValidation("paging id is required")
	}
	d.deps.Cursors.Release(id)
	return nil
}

// ExecSQL compiles, rewrites and executes sql, streaming every block to
// sink.
func (d *Dispatcher) ExecSQL(ctx context.Context, sql string, cfg domain.QueryConfig, sink Sink) error {
	r := d.newRun(ctx, opExecSQL, sql)
	p, err := d.compile(ctx, sql)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, d.stream(ctx, r, p, cfg, sink))
}

// ExecPlan rewrites and executes p, streaming every block to sink. The
// stream stops at the first sink error or when ctx is done.
func (d *Dispatcher) ExecPlan(ctx context.Context, p *plan.Plan, cfg domain.QueryConfig, sink Sink) error {
	r := d.newRun(ctx, opExecPlan, "")
	if p == nil {
		return r.finish(ctx, domain.ErrValidation("plan is required"))
	}
	return r.finish(ctx, d.stream(ctx, r, p, cfg, sink))
}

func (d *Dispatcher) stream(ctx context.Context, r *run, p *plan.Plan, cfg domain.QueryConfig, sink Sink) error {
	if sink == nil {
		return domain.ErrValidation("sink is required")
	}
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	it, err := d.open(ctx, r, p, cfg)
	if err != nil {
		return err
	}
	defer it.Close() //nolint:errcheck

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sink(b); err != nil {
			return &sinkError{err: err}
		}
		r.rows += int64(b.RowCount)
	}
}

// open runs the rewrite chain against the caller's policies and hands the
// result to the executor.
func (d *Dispatcher) open(ctx context.Context, r *run, p *plan.Plan, cfg domain.QueryConfig) (vector.Iterator, error) {
	r.tables = tableNames(p)
	rc := &rewrite.Context{
		Principal: r.principal.PrincipalName(),
		Groups:    r.principal.GroupMemberships(),
		Policies:  d.deps.Policies.Current(),
		Recorder:  &r.decisions,
	}
	rewritten, err := d.deps.Chain.Rewrite(ctx, p, rc)
	if err != nil {
		return nil, err
	}
	return d.deps.Executor.Execute(ctx, rewritten, d.rowsPerBlock(cfg))
}

func (d *Dispatcher) acquire(ctx context.Context) (func(), error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if m := d.deps.Metrics; m != nil {
		m.InFlight.Inc()
	}
	return func() {
		if m := d.deps.Metrics; m != nil {
			m.InFlight.Dec()
		}
		d.sem.Release(1)
	}, nil
}

func (d *Dispatcher) observe(op string, start time.Time, err error) {
	m := d.deps.Metrics
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, outcome(err)).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// sinkError marks a failure of the caller's sink, which is passed back
// unchanged instead of being reported as a backend failure.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }

func (e *sinkError) Unwrap() error { return e.err }

func outcome(err error) string {
	var denied *domain.AccessDeniedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &denied):
		return "denied"
	default:
		return "error"
	}
}

func tableNames(p *plan.Plan) []string {
	tables := plan.Tables(p)
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, strings.Join(t, "."))
	}
	return out
}
