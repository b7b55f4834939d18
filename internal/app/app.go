// Package app wires the data service: backend engine, policies, cursors,
// the dispatcher and the HTTP, gRPC and Flight SQL listeners.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"

	"vectorgate/internal/allocator"
	"vectorgate/internal/api"
	"vectorgate/internal/config"
	"vectorgate/internal/db/repository"
	"vectorgate/internal/dispatch"
	"vectorgate/internal/engine"
	"vectorgate/internal/flightsql"
	"vectorgate/internal/metrics"
	"vectorgate/internal/middleware"
	"vectorgate/internal/policy"
	"vectorgate/internal/rewrite"
	"vectorgate/internal/rpc"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg     *config.Config
	DuckDB  *sql.DB
	AuditDB *sql.DB // migrated audit store; nil disables auditing
	Logger  *slog.Logger
	// Registry receives the Prometheus collectors. Nil uses a fresh one.
	Registry *prometheus.Registry
}

// App is the fully wired service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Dispatcher *dispatch.Dispatcher
	Policies   *policy.Store
	Cursors    *allocator.Allocator
	Metrics    *metrics.Metrics
	Auth       *middleware.Authenticator
	Limiter    *middleware.RateLimiter
}

// New prepares the backend and builds every collaborator. Policies are
// loaded once; a broken policy source is fatal at startup.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// === Backend ===
	if err := engine.InstallExtensions(ctx, deps.DuckDB, cfg.DuckDBExts...); err != nil {
		return nil, err
	}
	if cfg.S3.Configured() {
		if err := engine.InstallExtensions(ctx, deps.DuckDB, "httpfs"); err != nil {
			return nil, err
		}
		if err := engine.CreateS3Secret(ctx, deps.DuckDB, engine.S3Secret{
			Name:     "vectorgate_s3",
			KeyID:    cfg.S3.KeyID,
			Secret:   cfg.S3.Secret,
			Endpoint: cfg.S3.Endpoint,
			Region:   cfg.S3.Region,
			URLStyle: cfg.S3.URLStyle,
		}); err != nil {
			return nil, err
		}
		logger.Info("S3 secret created", "endpoint", cfg.S3.Endpoint)
	}
	if cfg.SeedDemo {
		if err := seedDemo(ctx, deps.DuckDB, logger); err != nil {
			logger.Warn("seed demo data failed", "error", err)
		}
	}
	if cfg.ExternalViews != "" {
		views, err := engine.ParseExternalViews(cfg.ExternalViews)
		if err != nil {
			return nil, fmt.Errorf("EXTERNAL_VIEWS: %w", err)
		}
		n, err := engine.CreateExternalViews(ctx, deps.DuckDB, views)
		if err != nil {
			logger.Warn("some external views could not be created", "error", err)
		}
		logger.Info("external views created", "count", n)
	}

	// === Policies ===
	var source policy.Source
	if cfg.PolicySource != "" {
		var err error
		source, err = policy.NewSource(cfg.PolicySource, policy.S3Config{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			KeyID:     cfg.S3.KeyID,
			Secret:    cfg.S3.Secret,
			PathStyle: cfg.S3.URLStyle == "path",
		})
		if err != nil {
			return nil, fmt.Errorf("POLICY_SOURCE: %w", err)
		}
	}
	store := policy.NewStore(nil, source, logger)
	if err := store.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	// === Identity and limits ===
	var validator middleware.TokenValidator
	if cfg.JWTSecret != "" {
		v, err := middleware.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		validator = v
	}
	auth := middleware.NewAuthenticator(validator, cfg.TrustHeaders, cfg.RequireAuth)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})

	// === Dispatcher ===
	m := metrics.New(deps.Registry)
	cursors := allocator.New(allocator.Config{
		TTL:           cfg.CursorTTL,
		SweepSchedule: cfg.SweepSchedule(),
	}, m, logger)

	dd := dispatch.Deps{
		Compiler: engine.NewCompiler(deps.DuckDB),
		Executor: engine.NewExecutor(deps.DuckDB),
		Schemas:  engine.NewCatalog(deps.DuckDB),
		Policies: store,
		Chain:    rewrite.NewChain(rewrite.NewPolicyRewriter(logger)),
		Cursors:  cursors,
		Metrics:  m,
	}
	if deps.AuditDB != nil {
		dd.Audit = repository.NewAuditRepo(deps.AuditDB)
	}
	d := dispatch.New(dd, dispatch.Config{
		Version:         cfg.ServerVersion,
		MaxRowsPerBlock: cfg.MaxRowsPerBlock,
		MaxConcurrent:   cfg.MaxConcurrentQueries,
		AdminGroups:     cfg.AuditAdminGroups,
	}, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		Dispatcher: d,
		Policies:   store,
		Cursors:    cursors,
		Metrics:    m,
		Auth:       auth,
		Limiter:    limiter,
	}, nil
}

// ReloadPolicies re-reads the policy source. On failure the active set is
// kept.
func (a *App) ReloadPolicies(ctx context.Context) error {
	if err := a.Policies.Reload(ctx); err != nil {
		a.Metrics.PolicyReloads.WithLabelValues("error").Inc()
		return err
	}
	a.Metrics.PolicyReloads.WithLabelValues("ok").Inc()
	return nil
}

// HTTPHandler returns the HTTP API.
func (a *App) HTTPHandler() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Dispatcher:     a.Dispatcher,
		Authenticator:  a.Auth,
		RateLimiter:    a.Limiter,
		Metrics:        a.Metrics,
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		Logger:         a.logger,
	})
}

// GRPCServer returns a gRPC server carrying the data service and health.
func (a *App) GRPCServer() *grpc.Server {
	srv := grpc.NewServer(rpc.ServerOptions(a.Auth, a.Limiter)...)
	rpc.Register(srv, rpc.NewServer(a.Dispatcher, a.logger))
	health := grpcHealth.NewServer()
	health.SetServingStatus("", grpcHealthV1.HealthCheckResponse_SERVING)
	grpcHealthV1.RegisterHealthServer(srv, health)
	return srv
}

// Run serves every enabled listener until ctx is canceled or one of them
// fails, then shuts all of them down. SIGHUP reloads policies.
func (a *App) Run(ctx context.Context) error {
	if err := a.Cursors.Start(); err != nil {
		return err
	}

	lc := &net.ListenConfig{}
	httpLn, err := lc.Listen(ctx, "tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	var grpcLn net.Listener
	if !config.Disabled(a.cfg.GRPCAddr) {
		if grpcLn, err = lc.Listen(ctx, "tcp", a.cfg.GRPCAddr); err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}
	var flight *flightsql.Server
	if !config.Disabled(a.cfg.FlightAddr) {
		flight = flightsql.NewServer(flightsql.Config{
			Addr:       a.cfg.FlightAddr,
			Version:    a.cfg.ServerVersion,
			PendingTTL: a.cfg.CursorTTL,
		}, a.Dispatcher, a.logger, rpc.ServerOptions(a.Auth, a.Limiter)...)
		if err := flight.Start(); err != nil {
			_ = httpLn.Close()
			if grpcLn != nil {
				_ = grpcLn.Close()
			}
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Handler:           a.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		addr := httpLn.Addr().String()
		a.logger.Info("HTTP listening", "addr", addr, "try", "curl http://"+curlHost(addr)+"/v1/handshake")
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if grpcLn != nil {
		grpcSrv := a.GRPCServer()
		g.Go(func() error {
			a.logger.Info("gRPC listening", "addr", grpcLn.Addr().String())
			if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(a.cfg.ShutdownTimeout):
				grpcSrv.Stop()
			}
			return nil
		})
	}

	if flight != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			return flight.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		a.watchReload(gctx)
		return nil
	})

	return g.Wait()
}

// watchReload reloads policies on SIGHUP until ctx ends.
func (a *App) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			a.logger.Info("SIGHUP received, reloading policies")
			if err := a.ReloadPolicies(ctx); err != nil {
				a.logger.Warn("policy reload failed, keeping previous policies", "error", err)
			}
		}
	}
}

// Close releases cursors and background loops.
func (a *App) Close() error {
	a.Limiter.Stop()
	return a.Cursors.Close()
}
