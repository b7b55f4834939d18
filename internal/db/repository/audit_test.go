package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "vectorgate/internal/db"
	"vectorgate/internal/domain"
)

func setupAuditRepo(t *testing.T) *AuditRepo {
	t.Helper()
	return NewAuditRepo(internaldb.OpenTestSQLite(t))
}

func ptr[T any](v T) *T { return &v }

func makeAuditEntry(principal, action, status string, at time.Time) *domain.AuditEntry {
	return &domain.AuditEntry{
		PrincipalName:  principal,
		Action:         action,
		OriginalSQL:    ptr("SELECT * FROM sales.orders"),
		TablesAccessed: []string{"sales.orders"},
		Status:         status,
		DurationMs:     ptr(int64(42)),
		RowsReturned:   ptr(int64(10)),
		CreatedAt:      at,
	}
}

func TestAuditRepo_InsertAndList(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, makeAuditEntry("alice", "SUBMIT", domain.AuditAllowed, base)))
	require.NoError(t, repo.Insert(ctx, makeAuditEntry("bob", "EXEC_SQL", domain.AuditDenied, base.Add(time.Minute))))

	entries, total, err := repo.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "bob", entries[0].PrincipalName)
	e := entries[1]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "SUBMIT", e.Action)
	assert.Equal(t, []string{"sales.orders"}, e.TablesAccessed)
	assert.Equal(t, "SELECT * FROM sales.orders", *e.OriginalSQL)
	assert.Equal(t, int64(42), *e.DurationMs)
	assert.Equal(t, int64(10), *e.RowsReturned)
	assert.Nil(t, e.ErrorMessage)
	assert.True(t, base.Equal(e.CreatedAt))
}

func TestAuditRepo_Filters(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, makeAuditEntry("alice", "SUBMIT", domain.AuditAllowed, now)))
	require.NoError(t, repo.Insert(ctx, makeAuditEntry("alice", "EXEC_PLAN", domain.AuditDenied, now)))
	require.NoError(t, repo.Insert(ctx, makeAuditEntry("bob", "SUBMIT", domain.AuditAllowed, now)))

	tests := []struct {
		name   string
		filter domain.AuditFilter
		want   int64
	}{
		{"principal", domain.AuditFilter{PrincipalName: ptr("alice")}, 2},
		{"action", domain.AuditFilter{Action: ptr("SUBMIT")}, 2},
		{"status", domain.AuditFilter{Status: ptr(domain.AuditDenied)}, 1},
		{"combined", domain.AuditFilter{PrincipalName: ptr("bob"), Action: ptr("EXEC_PLAN")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, total, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
			assert.Len(t, entries, int(tt.want))
		})
	}
}

func TestAuditRepo_Pagination(t *testing.T) {
	repo := setupAuditRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, makeAuditEntry("alice", "SUBMIT", domain.AuditAllowed, base.Add(time.Duration(i)*time.Second))))
	}

	page1, total, err := repo.List(ctx, domain.AuditFilter{Page: domain.PageRequest{MaxResults: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page1, 2)

	first := domain.PageRequest{MaxResults: 2}
	next := first.Next(total)
	require.NotEmpty(t, next)
	page2, _, err := repo.List(ctx, domain.AuditFilter{Page: domain.PageRequest{MaxResults: 2, PageToken: next}})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)
	assert.True(t, page1[1].CreatedAt.After(page2[0].CreatedAt))
}

func TestAuditRepo_InsertFillsDefaults(t *testing.T) {
	repo := setupAuditRepo(t)
	e := &domain.AuditEntry{PrincipalName: "alice", Action: "SUBMIT", Status: domain.AuditError, ErrorMessage: ptr("boom")}
	require.NoError(t, repo.Insert(context.Background(), e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	entries, _, err := repo.List(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{}, entries[0].TablesAccessed)
	assert.Equal(t, "boom", *entries[0].ErrorMessage)
	assert.Nil(t, entries[0].RowsReturned)
}
