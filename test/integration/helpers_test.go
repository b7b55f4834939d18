//go:build integration

package integration

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/app"
	"vectorgate/internal/config"
	internaldb "vectorgate/internal/db"
	"vectorgate/internal/engine"
	"vectorgate/internal/middleware"
)

const policyDoc = `
- name: eu_analysts
  actions:
    - verb: allow
      type: row_filter
      table: [sales, orders]
      expression:
        eq: ["#ref.region", "eu"]
      exclusive: true
    - verb: allow
      type: column_access
      table: [sales, customers]
      columns: [email]
      columnsMode: exclude
- name: contractors
  actions:
    - verb: deny
      type: table_access
      table: [sales, "*"]
`

type env struct {
	app     *app.App
	server  *httptest.Server
	auditDB *sql.DB
}

// setupEnv wires the whole service over an in-memory DuckDB seeded with the
// demo schema. It skips when the substrait extension cannot be installed.
func setupEnv(t *testing.T) *env {
	t.Helper()

	duck, err := engine.Open(t.Context(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = duck.Close() })
	if err := engine.InstallExtensions(t.Context(), duck, "substrait"); err != nil {
		t.Skipf("substrait extension unavailable: %v", err)
	}

	auditDB, err := internaldb.OpenSQLite(filepath.Join(t.TempDir(), "audit.sqlite"), internaldb.ModeWrite, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditDB.Close() })
	require.NoError(t, internaldb.RunMigrations(t.Context(), auditDB))

	policyPath := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte(policyDoc), 0o600))

	cfg := &config.Config{
		SeedDemo:             true,
		PolicySource:         policyPath,
		TrustHeaders:         true,
		ServerVersion:        "integration",
		MaxRowsPerBlock:      1000,
		MaxConcurrentQueries: 4,
		CursorTTL:            time.Minute,
		CursorSweepInterval:  time.Minute,
		ShutdownTimeout:      5 * time.Second,
		CORSAllowedOrigins:   []string{"*"},
	}
	a, err := app.New(t.Context(), app.Deps{
		Cfg:      cfg,
		DuckDB:   duck,
		AuditDB:  auditDB,
		Logger:   slog.New(slog.DiscardHandler),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.HTTPHandler())
	t.Cleanup(srv.Close)
	return &env{app: a, server: srv, auditDB: auditDB}
}

// do sends a request as principal with groups and returns status and body.
func (e *env) do(t *testing.T, method, path string, body any, principal string, groups ...string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set(middleware.HeaderPrincipal, principal)
	}
	if len(groups) > 0 {
		req.Header.Set(middleware.HeaderGroups, strings.Join(groups, ","))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}
