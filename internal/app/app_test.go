package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/config"
	"vectorgate/internal/db"
	"vectorgate/internal/engine"
)

const analystPolicy = `
- name: analyst
  actions:
    - verb: allow
      type: row_filter
      table: [sales, orders]
      expression:
        eq: ["#ref.region", "eu"]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:           "127.0.0.1:0",
		GRPCAddr:             "127.0.0.1:0",
		FlightAddr:           "127.0.0.1:0",
		SeedDemo:             true,
		TrustHeaders:         true,
		ServerVersion:        "test",
		MaxRowsPerBlock:      1024,
		MaxConcurrentQueries: 4,
		CursorTTL:            time.Minute,
		CursorSweepInterval:  time.Minute,
		ShutdownTimeout:      5 * time.Second,
		CORSAllowedOrigins:   []string{"*"},
	}
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func openDuck(t *testing.T) *sql.DB {
	t.Helper()
	duck, err := engine.Open(t.Context(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = duck.Close() })
	return duck
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(t.Context(), Deps{
		Cfg:      cfg,
		DuckDB:   openDuck(t),
		AuditDB:  db.OpenTestSQLite(t),
		Logger:   testLogger(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_SeedsDemoSchema(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	schemas, err := a.Dispatcher.ListSchemas(t.Context())
	require.NoError(t, err)
	assert.Contains(t, schemas, "sales")

	s, err := a.Dispatcher.GetSchema(t.Context(), "sales")
	require.NoError(t, err)
	assert.Len(t, s.Tables, 2)
}

func TestSeedDemo_Idempotent(t *testing.T) {
	duck := openDuck(t)
	logger := testLogger()
	require.NoError(t, seedDemo(t.Context(), duck, logger))
	require.NoError(t, seedDemo(t.Context(), duck, logger))

	var n int
	require.NoError(t, duck.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM sales.orders").Scan(&n))
	assert.Equal(t, 10000, n)
}

func TestNew_BadPolicySource(t *testing.T) {
	cfg := testConfig(t)
	cfg.PolicySource = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(t.Context(), Deps{Cfg: cfg, DuckDB: openDuck(t), Registry: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load policies")
}

func TestNew_BadExternalViews(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExternalViews = "orders"
	_, err := New(t.Context(), Deps{Cfg: cfg, DuckDB: openDuck(t), Registry: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTERNAL_VIEWS")
}

func TestHTTPHandler_Health(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	rec := httptest.NewRecorder()
	a.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReloadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(analystPolicy), 0o600))

	cfg := testConfig(t)
	cfg.PolicySource = path
	a := newTestApp(t, cfg)
	assert.Equal(t, 1, a.Policies.Current().Len())

	require.NoError(t, a.ReloadPolicies(t.Context()))
	assert.Equal(t, 1.0, promtest.ToFloat64(a.Metrics.PolicyReloads.WithLabelValues("ok")))

	require.NoError(t, os.WriteFile(path, []byte("- name: [broken"), 0o600))
	require.Error(t, a.ReloadPolicies(t.Context()))
	assert.Equal(t, 1.0, promtest.ToFloat64(a.Metrics.PolicyReloads.WithLabelValues("error")))
	assert.Equal(t, 1, a.Policies.Current().Len(), "previous policies stay active")
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddr = "not-an-address"
	cfg.GRPCAddr = "off"
	cfg.FlightAddr = "off"
	a := newTestApp(t, cfg)

	err := a.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen http")
}

func TestCurlHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		listenAddr string
		want       string
	}{
		{name: "port only", listenAddr: ":8080", want: "localhost:8080"},
		{name: "ipv4 host and port", listenAddr: "127.0.0.1:8080", want: "127.0.0.1:8080"},
		{name: "wildcard ipv4", listenAddr: "0.0.0.0:8080", want: "localhost:8080"},
		{name: "wildcard ipv6", listenAddr: "[::]:8080", want: "localhost:8080"},
		{name: "ipv6 loopback", listenAddr: "[::1]:8080", want: "[::1]:8080"},
		{name: "trim host and port", listenAddr: " localhost:9090 ", want: "localhost:9090"},
		{name: "trim port only", listenAddr: "  :7070  ", want: "localhost:7070"},
		{name: "empty falls back", listenAddr: "", want: "localhost:8080"},
		{name: "whitespace falls back", listenAddr: "   ", want: "localhost:8080"},
		{name: "malformed passes through", listenAddr: "localhost", want: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, curlHost(tt.listenAddr))
		})
	}
}
