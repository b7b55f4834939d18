// Package repository implements domain repository interfaces on SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vectorgate/internal/domain"
)

// Compile-time check.
var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo stores audit entries in the audit_log table.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates an AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Insert implements domain.AuditRepository. A missing ID or timestamp is
// filled in.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	tables := e.TablesAccessed
	if tables == nil {
		tables = []string{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, principal_name, action, original_sql, tables_accessed,
			status, error_message, duration_ms, rows_returned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PrincipalName, e.Action, e.OriginalSQL, string(tablesJSON),
		e.Status, e.ErrorMessage, e.DurationMs, e.RowsReturned, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// timeLayout is fixed width so that created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// filterClause matches a column only when its filter argument is not NULL.
const filterClause = `
	WHERE (? IS NULL OR principal_name = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR status = ?)`

// List implements domain.AuditRepository. Entries are returned newest
// first.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	args := []any{
		nullable(filter.PrincipalName), nullable(filter.PrincipalName),
		nullable(filter.Action), nullable(filter.Action),
		nullable(filter.Status), nullable(filter.Status),
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM audit_log"+filterClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal_name, action, original_sql, tables_accessed,
			status, error_message, duration_ms, rows_returned, created_at
		FROM audit_log`+filterClause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (domain.AuditEntry, error) {
	var (
		e            domain.AuditEntry
		originalSQL  sql.NullString
		errorMessage sql.NullString
		durationMs   sql.NullInt64
		rowsReturned sql.NullInt64
		tablesJSON   string
		createdAt    string
	)
	if err := rows.Scan(&e.ID, &e.PrincipalName, &e.Action, &originalSQL, &tablesJSON,
		&e.Status, &errorMessage, &durationMs, &rowsReturned, &createdAt); err != nil {
		return e, fmt.Errorf("scan audit entry: %w", err)
	}
	if err := json.Unmarshal([]byte(tablesJSON), &e.TablesAccessed); err != nil {
		return e, fmt.Errorf("decode tables: %w", err)
	}
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return e, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = ts
	if originalSQL.Valid {
		e.OriginalSQL = &originalSQL.String
	}
	if errorMessage.Valid {
		e.ErrorMessage = &errorMessage.String
	}
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	if rowsReturned.Valid {
		e.RowsReturned = &rowsReturned.Int64
	}
	return e, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
