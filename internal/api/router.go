package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"vectorgate/internal/dispatch"
	"vectorgate/internal/metrics"
	"vectorgate/internal/middleware"
)

// RouterConfig holds everything the HTTP router needs. Authenticator,
// RateLimiter and Metrics are optional.
type RouterConfig struct {
	Dispatcher     *dispatch.Dispatcher
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the HTTP handler. /healthz and /metrics are public;
// everything under /v1 is rate limited and authenticated.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(nil, false, false)
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(logger, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			middleware.HeaderAuthorization, "Content-Type",
			middleware.HeaderRequestID, middleware.HeaderPrincipal, middleware.HeaderGroups,
		},
		ExposedHeaders: []string{middleware.HeaderRequestID},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	h := NewHandler(cfg.Dispatcher, logger)
	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimiter.Enabled() {
			r.Use(cfg.RateLimiter.HTTP)
		}
		r.Use(auth.HTTP)
		h.Routes(r)
	})
	return r
}
