package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/domain"
	"vectorgate/internal/middleware"
	"vectorgate/internal/plan"
	"vectorgate/internal/policy"
	"vectorgate/internal/testutil"
	"vectorgate/internal/vector"
)

// setupAPITest serves a fixture dispatcher behind the full router. Callers
// identify through trusted headers.
func setupAPITest(t *testing.T, opts testutil.FixtureOptions) (*httptest.Server, *testutil.Fixture) {
	t.Helper()
	f := testutil.NewFixture(t, opts)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Dispatcher:    f.Dispatcher,
		Authenticator: middleware.NewAuthenticator(nil, true, false),
		Metrics:       f.Metrics,
	}))
	t.Cleanup(srv.Close)
	return srv, f
}

func do(t *testing.T, srv *httptest.Server, method, path string, body interface{}, groups ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderPrincipal, "alice")
	if len(groups) > 0 {
		req.Header.Set(middleware.HeaderGroups, strings.Join(groups, ","))
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{})
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.HeaderRequestID))
}

func TestHandshake(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{})
	resp := do(t, srv, http.MethodGet, "/v1/handshake", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	caps := decode[domain.Capabilities](t, resp)
	assert.Equal(t, domain.Capabilities{SupportSQL: true, Principal: "alice", Version: "test", MaxRowsPerBlock: 500}, caps)
}

func TestSchemas(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{})

	resp := do(t, srv, http.MethodGet, "/v1/schemas", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]string](t, resp)
	assert.Equal(t, []string{"", "sales"}, list["schemas"])

	tests := []struct {
		path       string
		wantStatus int
		wantName   string
	}{
		{"/v1/schemas/sales", http.StatusOK, "sales"},
		{"/v1/schemas/" + RootSchemaPath, http.StatusOK, ""},
		{"/v1/schemas/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := do(t, srv, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusOK {
				body := decode[errorBody](t, resp)
				assert.Equal(t, tt.wantStatus, body.Code)
				return
			}
			s := decode[domain.Schema](t, resp)
			assert.Equal(t, tt.wantName, s.Name)
		})
	}
}

func TestParse(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{})

	resp := do(t, srv, http.MethodPost, "/v1/parse", ParseRequest{SQL: testutil.OrdersSQL})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed := decode[ParseResponse](t, resp)
	assert.Equal(t, []string{"id", "region"}, parsed.OutputNames)
	assert.Contains(t, string(parsed.Plan), "relations")

	resp = do(t, srv, http.MethodPost, "/v1/parse", ParseRequest{SQL: "SELEC nonsense"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, resp).Message, "syntax error")
}

func TestParse_NoCompiler(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{NoCompiler: true})
	resp := do(t, srv, http.MethodPost, "/v1/parse", ParseRequest{SQL: testutil.OrdersSQL})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestQueryPaging(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{Blocks: 3})

	resp := do(t, srv, http.MethodPost, "/v1/query", QueryRequest{SQL: testutil.OrdersSQL})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[domain.SubmitResult](t, resp)
	require.NotNil(t, first.Block)
	assert.Equal(t, 1, first.Block.RowCount)
	require.NotEmpty(t, first.PagingID)

	id := first.PagingID
	for i := 1; i < 3; i++ {
		resp := do(t, srv, http.MethodGet, "/v1/results/"+id, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		page := decode[domain.FetchResult](t, resp)
		require.NotNil(t, page.Block, "page %d", i)
		assert.Equal(t, int32(i), page.Block.Value(0, 0))
		id = page.NextPagingID
	}

	resp = do(t, srv, http.MethodGet, "/v1/results/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	last := decode[domain.FetchResult](t, resp)
	assert.Nil(t, last.Block)
	assert.Empty(t, last.NextPagingID)
	assert.Equal(t, 0, f.Cursors.Len())
}

func TestReleaseResult(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{Blocks: 3})

	resp := do(t, srv, http.MethodPost, "/v1/query", QueryRequest{SQL: testutil.OrdersSQL})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[domain.SubmitResult](t, resp)
	require.Equal(t, 1, f.Cursors.Len())

	resp = do(t, srv, http.MethodDelete, "/v1/results/"+first.PagingID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.Cursors.Len())

	resp = do(t, srv, http.MethodGet, "/v1/results/"+first.PagingID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decode[domain.FetchResult](t, resp).Block)
}

func TestQuery_Plan(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{Blocks: 1})
	raw, err := testutil.OrdersPlan().JSON()
	require.NoError(t, err)

	resp := do(t, srv, http.MethodPost, "/v1/query", QueryRequest{Plan: raw})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[domain.SubmitResult](t, resp)
	require.NotNil(t, res.Block)
	assert.Len(t, f.Executor.Plans(), 1)
}

func TestQuery_BadRequests(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{})
	raw, err := testutil.OrdersPlan().JSON()
	require.NoError(t, err)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty", QueryRequest{}},
		{"both", QueryRequest{SQL: testutil.OrdersSQL, Plan: raw}},
		{"bad plan", map[string]interface{}{"plan": map[string]interface{}{"relations": "x"}}},
		{"unknown field", map[string]interface{}{"sql": testutil.OrdersSQL, "nope": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, f.Executor.Plans())
}

func TestQuery_Denied(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{Policies: []policy.Policy{testutil.DenyOrders("no-orders")}})

	resp := do(t, srv, http.MethodPost, "/v1/query", QueryRequest{SQL: testutil.OrdersSQL}, "no-orders")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.Executor.Plans())
	require.NotNil(t, f.Audit.LastEntry())
	assert.Equal(t, domain.AuditDenied, f.Audit.LastEntry().Status)

	resp = do(t, srv, http.MethodPost, "/v1/query", QueryRequest{SQL: testutil.OrdersSQL})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "non-members are unaffected")
}

func readLines(t *testing.T, resp *http.Response) []ExecLine {
	t.Helper()
	var lines []ExecLine
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		var line ExecLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestExec_StreamsNDJSON(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{Blocks: 3})

	resp := do(t, srv, http.MethodPost, "/v1/exec", QueryRequest{SQL: testutil.OrdersSQL})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	lines := readLines(t, resp)
	require.Len(t, lines, 3)
	for i, l := range lines {
		require.NotNil(t, l.Block)
		assert.Nil(t, l.Error)
		assert.Equal(t, int32(i), l.Block.Value(0, 0))
	}
	assert.True(t, f.Audit.HasAction("EXEC_SQL"))
	assert.Equal(t, 0, f.Cursors.Len(), "exec bypasses the allocator")
}

func TestExec_Errors(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{Policies: []policy.Policy{testutil.DenyOrders("no-orders")}})

	resp := do(t, srv, http.MethodPost, "/v1/exec", QueryRequest{SQL: testutil.OrdersSQL}, "no-orders")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp = do(t, srv, http.MethodPost, "/v1/exec", QueryRequest{SQL: "SELEC"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExec_EmptyResult(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{Blocks: 1})
	f.Executor.ExecuteFn = func(context.Context, *plan.Plan, domain.QueryConfig) (vector.Iterator, error) {
		return vector.NewSliceIterator(testutil.OrdersSchema), nil
	}

	resp := do(t, srv, http.MethodPost, "/v1/exec", QueryRequest{SQL: testutil.OrdersSQL})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, readLines(t, resp))
}

func TestEvaluatePolicy(t *testing.T) {
	hidePII := policy.Policy{Name: "hide-pii", Actions: []policy.Action{{
		Kind: policy.KindColumnAccess, Verb: policy.VerbDeny, Table: []string{"sales", "*"},
		Columns: []string{"email"}, ColumnsMode: policy.ColumnsExclude,
	}}}
	srv, _ := setupAPITest(t, testutil.FixtureOptions{Policies: []policy.Policy{hidePII}})

	resp := do(t, srv, http.MethodPost, "/v1/policy/evaluate",
		EvaluateRequest{Table: testutil.OrdersTable, Columns: []string{"id", "email"}}, "hide-pii")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[policy.TableResult](t, resp)
	assert.Equal(t, policy.Allowed, res.TableAccess)
	require.Len(t, res.Columns, 2)
	assert.Equal(t, policy.Allowed, res.Columns[0].Access)
	assert.Equal(t, policy.Denied, res.Columns[1].Access)
	assert.Equal(t, "hide-pii", res.Columns[1].Policy)

	resp = do(t, srv, http.MethodPost, "/v1/policy/evaluate", EvaluateRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	f := testutil.NewFixture(t, testutil.FixtureOptions{})
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Dispatcher:    f.Dispatcher,
		Authenticator: middleware.NewAuthenticator(nil, false, true),
	}))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/v1/handshake")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	health, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRateLimited(t *testing.T) {
	f := testutil.NewFixture(t, testutil.FixtureOptions{})
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	t.Cleanup(limiter.Stop)
	srv := httptest.NewServer(NewRouter(RouterConfig{Dispatcher: f.Dispatcher, RateLimiter: limiter}))
	t.Cleanup(srv.Close)

	codes := make([]int, 0, 2)
	for range 2 {
		resp, err := srv.Client().Get(srv.URL + "/v1/handshake")
		require.NoError(t, err)
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupAPITest(t, testutil.FixtureOptions{})
	_ = do(t, srv, http.MethodGet, "/v1/handshake", nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vectorgate_http_requests_total{method="GET",route="/v1/handshake",status="200"} 1`)
}

func TestListAudit(t *testing.T) {
	srv, f := setupAPITest(t, testutil.FixtureOptions{})
	for range 3 {
		resp := do(t, srv, http.MethodPost, "/v1/query", QueryRequest{SQL: testutil.OrdersSQL})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	bob := "bob"
	require.NoError(t, f.Audit.Insert(context.Background(), &domain.AuditEntry{PrincipalName: bob, Action: "SUBMIT", Status: domain.AuditAllowed}))

	resp := do(t, srv, http.MethodGet, "/v1/audit?max_results=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[domain.AuditPage](t, resp)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "alice", page.Entries[0].PrincipalName)
	require.NotEmpty(t, page.NextPageToken)

	resp = do(t, srv, http.MethodGet, "/v1/audit?max_results=2&page_token="+page.NextPageToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[domain.AuditPage](t, resp)
	assert.Len(t, page.Entries, 1)
	assert.Empty(t, page.NextPageToken)

	resp = do(t, srv, http.MethodGet, "/v1/audit?principal=bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/v1/audit?principal=bob", nil, "admins")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[domain.AuditPage](t, resp)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "bob", page.Entries[0].PrincipalName)

	resp = do(t, srv, http.MethodGet, "/v1/audit?max_results=lots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
