package dispatch

import (
	"context"
	"errors"
	"slices"
	"time"

	"vectorgate/internal/domain"
	"vectorgate/internal/rewrite"
)

// run tracks one submit or exec call for metrics and audit.
type run struct {
	d         *Dispatcher
	op        string
	start     time.Time
	principal domain.SecurityContext
	sql       string
	tables    []string
	decisions rewrite.DecisionLog
	rows      int64
}

func (d *Dispatcher) newRun(ctx context.Context, op, sql string) *run {
	return &run{
		d:         d,
		op:        op,
		start:     time.Now(),
		principal: domain.SecurityContextFrom(ctx),
		sql:       sql,
	}
}

// finish records the outcome and returns the error to hand to the caller.
func (r *run) finish(ctx context.Context, err error) error {
	d := r.d
	d.observe(r.op, r.start, err)
	if err == nil && d.deps.Metrics != nil {
		d.deps.Metrics.RowsReturned.Add(float64(r.rows))
	}
	r.audit(ctx, err)

	if err == nil {
		return nil
	}
	var se *sinkError
	if errors.As(err, &se) {
		return se.err
	}
	return d.classify(r.op, err)
}

func (r *run) audit(ctx context.Context, err error) {
	d := r.d
	for _, dec := range r.decisions.Decisions() {
		d.logger.Debug("policy decision",
			"principal", r.principal.PrincipalName(),
			"table", dec.Table,
			"access", dec.Access,
			"row_filters", dec.RowFilters,
			"masked", dec.Masked,
		)
	}
	if d.deps.Audit == nil {
		return
	}

	duration := time.Since(r.start).Milliseconds()
	entry := &domain.AuditEntry{
		ID:             domain.NewID(),
		PrincipalName:  r.principal.PrincipalName(),
		Action:         auditActions[r.op],
		TablesAccessed: r.tables,
		Status:         domain.AuditAllowed,
		DurationMs:     &duration,
		CreatedAt:      time.Now().UTC(),
	}
	if r.sql != "" {
		sql := r.sql
		entry.OriginalSQL = &sql
	}
	if err != nil {
		var denied *domain.AccessDeniedError
		if errors.As(err, &denied) {
			entry.Status = domain.AuditDenied
		} else {
			entry.Status = domain.AuditError
		}
		msg := err.Error()
		entry.ErrorMessage = &msg
	} else {
		rows := r.rows
		entry.RowsReturned = &rows
	}

	// A cancelled request is still audited.
	if err := d.deps.Audit.Insert(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("audit insert failed", "action", entry.Action, "error", err)
	}
}

// ListAudit returns one page of the audit log. Members of an admin group may
// list every principal; anyone else only sees their own entries.
func (d *Dispatcher) ListAudit(ctx context.Context, filter domain.AuditFilter) (domain.AuditPage, error) {
	if d.deps.Audit == nil {
		return domain.AuditPage{}, domain.ErrNotImplemented("audit log is not enabled on this deployment")
	}
	p, ok := domain.PrincipalFromContext(ctx)
	if !ok || p.Name == "" || p.Name == domain.Anonymous.Name {
		return domain.AuditPage{}, domain.ErrAccessDenied("authentication required")
	}
	if !d.isAdmin(p) {
		if filter.PrincipalName != nil && *filter.PrincipalName != p.Name {
			return domain.AuditPage{}, domain.ErrAccessDenied("admin privileges required to list other principals")
		}
		name := p.Name
		filter.PrincipalName = &name
	}

	entries, total, err := d.deps.Audit.List(ctx, filter)
	if err != nil {
		return domain.AuditPage{}, d.classify("list audit", err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return domain.AuditPage{
		Entries:       entries,
		Total:         total,
		NextPageToken: filter.Page.Next(total),
	}, nil
}

func (d *Dispatcher) isAdmin(p domain.ContextPrincipal) bool {
	return slices.ContainsFunc(p.Groups, func(g string) bool {
		return slices.Contains(d.cfg.AdminGroups, g)
	})
}
