//go:build integration

package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/api"
	"vectorgate/internal/db/repository"
	"vectorgate/internal/domain"
	"vectorgate/internal/vector"
)

// drainHTTP submits sql and follows paging ids until the result is exhausted.
func drainHTTP(t *testing.T, e *env, sql, principal string, groups ...string) []*vector.Block {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/query", map[string]any{"sql": sql}, principal, groups...)
	require.Equal(t, http.StatusOK, status, string(body))

	var first domain.SubmitResult
	require.NoError(t, json.Unmarshal(body, &first))
	if first.Block == nil {
		return nil
	}
	blocks := []*vector.Block{first.Block}
	for id := first.PagingID; id != ""; {
		status, body := e.do(t, http.MethodGet, "/v1/results/"+id, nil, principal, groups...)
		require.Equal(t, http.StatusOK, status, string(body))
		var page domain.FetchResult
		require.NoError(t, json.Unmarshal(body, &page))
		if page.Block == nil {
			break
		}
		blocks = append(blocks, page.Block)
		id = page.NextPagingID
	}
	return blocks
}

func regions(blocks []*vector.Block) map[string]int {
	out := map[string]int{}
	for _, b := range blocks {
		for _, row := range b.Rows() {
			out[row[0].(string)]++
		}
	}
	return out
}

func TestRowFilter_MemberSeesOnlyItsRows(t *testing.T) {
	e := setupEnv(t)

	blocks := drainHTTP(t, e, "SELECT region FROM sales.orders", "ana", "eu_analysts")
	got := regions(blocks)
	assert.Equal(t, map[string]int{"eu": 5000}, got)
	assert.Greater(t, len(blocks), 1, "result spans several pages")
}

func TestRowFilter_ExclusiveNegatedForOthers(t *testing.T) {
	e := setupEnv(t)

	got := regions(drainHTTP(t, e, "SELECT region FROM sales.orders", "sam"))
	assert.Equal(t, map[string]int{"us": 5000}, got)
}

func TestTableAccess_Denied(t *testing.T) {
	e := setupEnv(t)

	status, body := e.do(t, http.MethodPost, "/v1/query",
		map[string]any{"sql": "SELECT * FROM sales.customers"}, "carl", "contractors")
	assert.Equal(t, http.StatusForbidden, status, string(body))

	repo := repository.NewAuditRepo(e.auditDB)
	principal := "carl"
	require.Eventually(t, func() bool {
		entries, _, err := repo.List(t.Context(), domain.AuditFilter{PrincipalName: &principal})
		return err == nil && len(entries) == 1 && entries[0].Status == domain.AuditDenied
	}, 5*time.Second, 100*time.Millisecond)
}

func TestColumnAccess_ExcludedColumn(t *testing.T) {
	e := setupEnv(t)

	status, _ := e.do(t, http.MethodPost, "/v1/query",
		map[string]any{"sql": "SELECT email FROM sales.customers"}, "ana", "eu_analysts")
	assert.Equal(t, http.StatusForbidden, status)

	blocks := drainHTTP(t, e, "SELECT name FROM sales.customers", "ana", "eu_analysts")
	require.Len(t, blocks, 1)
	assert.Equal(t, 4, blocks[0].RowCount)
}

func TestQuery_MaskedColumnLeavesResult(t *testing.T) {
	e := setupEnv(t)

	blocks := drainHTTP(t, e, "SELECT id, email FROM sales.customers", "ana", "eu_analysts")
	require.Len(t, blocks, 1)
	var names []string
	for _, f := range blocks[0].Schema.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id"}, names)
}

func TestExec_StreamsNDJSON(t *testing.T) {
	e := setupEnv(t)

	status, body := e.do(t, http.MethodPost, "/v1/exec",
		map[string]any{"sql": "SELECT id, region FROM sales.orders", "config": map[string]int{"maxRowsPerBlock": 2500}},
		"ana", "eu_analysts")
	require.Equal(t, http.StatusOK, status, string(body))

	var rows int
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	for sc.Scan() {
		var line api.ExecLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		require.Nil(t, line.Error)
		rows += line.Block.RowCount
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 5000, rows)
}

func TestSchemas(t *testing.T) {
	e := setupEnv(t)

	status, body := e.do(t, http.MethodGet, "/v1/schemas/sales", nil, "ana")
	require.Equal(t, http.StatusOK, status, string(body))
	var s domain.Schema
	require.NoError(t, json.Unmarshal(body, &s))
	names := []string{}
	for _, tbl := range s.Tables {
		names = append(names, tbl.Name)
	}
	assert.ElementsMatch(t, []string{"customers", "orders"}, names)
}
