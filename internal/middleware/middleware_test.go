package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/domain"
	"vectorgate/internal/metrics"
)

const testSecret = "test-secret-32-bytes-long-xxxxx"

func makeToken(secret string, claims jwt.MapClaims) string {
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return signed
}

func TestNewHS256Validator_RequiresSecret(t *testing.T) {
	_, err := NewHS256Validator("")
	assert.Error(t, err)
}

func TestHS256Validator_Validate(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		token      string
		wantErr    bool
		wantSub    string
		wantGroups []string
	}{
		{
			name:       "groups as array",
			token:      makeToken(testSecret, jwt.MapClaims{"sub": "alice", "groups": []string{"analysts", "eu"}, "exp": exp}),
			wantSub:    "alice",
			wantGroups: []string{"analysts", "eu"},
		},
		{
			name:       "groups as string",
			token:      makeToken(testSecret, jwt.MapClaims{"sub": "bob", "groups": "a, b,,c", "exp": exp}),
			wantSub:    "bob",
			wantGroups: []string{"a", "b", "c"},
		},
		{
			name:    "no groups",
			token:   makeToken(testSecret, jwt.MapClaims{"sub": "carol", "exp": exp}),
			wantSub: "carol",
		},
		{name: "wrong secret", token: makeToken("other", jwt.MapClaims{"sub": "x", "exp": exp}), wantErr: true},
		{name: "expired", token: makeToken(testSecret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}), wantErr: true},
		{name: "no subject", token: makeToken(testSecret, jwt.MapClaims{"exp": exp}), wantErr: true},
		{name: "garbage", token: "not.a.jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, c.Subject)
			assert.Equal(t, tt.wantGroups, c.Groups)
		})
	}
}

func TestHS256Validator_RejectsNoneAlg(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "mallory"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), tok)
	assert.Error(t, err)
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := domain.SecurityContextFrom(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{"name": sc.PrincipalName(), "groups": sc.GroupMemberships()})
	})
}

func TestAuthenticator_HTTP(t *testing.T) {
	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)
	token := makeToken(testSecret, jwt.MapClaims{"sub": "alice", "groups": []string{"analysts"}, "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name       string
		auth       *Authenticator
		headers    map[string]string
		wantStatus int
		wantName   string
	}{
		{"bearer", NewAuthenticator(v, false, true), map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "alice"},
		{"bad bearer", NewAuthenticator(v, true, false), map[string]string{"Authorization": "Bearer nope", "X-Principal": "eve"}, http.StatusUnauthorized, ""},
		{"trusted headers", NewAuthenticator(nil, true, true), map[string]string{"X-Principal": "dev", "X-Groups": "a,b"}, http.StatusOK, "dev"},
		{"untrusted headers ignored", NewAuthenticator(v, false, false), map[string]string{"X-Principal": "dev"}, http.StatusOK, "anonymous"},
		{"required", NewAuthenticator(v, false, true), nil, http.StatusUnauthorized, ""},
		{"anonymous", NewAuthenticator(nil, false, false), nil, http.StatusOK, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			tt.auth.HTTP(principalEcho()).ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				Name   string   `json:"name"`
				Groups []string `json:"groups"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantName, body.Name)
		})
	}
}

func TestAuthenticator_TrustedGroups(t *testing.T) {
	p, err := NewAuthenticator(nil, true, false).Authenticate(context.Background(), Credentials{Principal: "dev", Groups: " a , b "})
	require.NoError(t, err)
	assert.Equal(t, domain.ContextPrincipal{Name: "dev", Groups: []string{"a", "b"}}, p)
}

func TestRateLimiter_HTTP(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	t.Cleanup(l.Stop)
	h := l.HTTP(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	for range 2 {
		rec := do("10.0.0.1:1234")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := do("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate limit exceeded", body["message"])

	assert.Equal(t, http.StatusOK, do("10.0.0.2:1").Code, "clients are isolated")
}

func TestRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{})
	t.Cleanup(l.Stop)
	for range 100 {
		ok, _ := l.Allow("k")
		require.True(t, ok)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(HeaderRequestID))
}

func TestAccessLog_CountsByRoutePattern(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(AccessLog(slog.New(slog.NewTextHandler(io.Discard, nil)), m))
	r.Get("/v1/results/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/results/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/results/{id}", "418")))
}
