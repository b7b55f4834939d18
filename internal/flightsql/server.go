// Package flightsql exposes the data service as an Arrow Flight SQL endpoint.
package flightsql

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"

	"vectorgate/internal/dispatch"
)

// Config configures the Flight SQL listener.
type Config struct {
	Addr    string
	Version string
	// PendingTTL bounds how long a submitted statement waits for DoGet.
	PendingTTL time.Duration
}

// Server is a Flight SQL listener backed by a Dispatcher.
type Server struct {
	cfg    Config
	d      *dispatch.Dispatcher
	logger *slog.Logger
	opts   []grpc.ServerOption

	mu         sync.Mutex
	ln         net.Listener
	grpcServer *grpc.Server
	health     *grpcHealth.Server
	wg         sync.WaitGroup
}

// NewServer creates a Server. opts are passed to the gRPC server; use them
// for the auth and rate limit interceptors.
func NewServer(cfg Config, d *dispatch.Dispatcher, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PendingTTL == 0 {
		cfg.PendingTTL = 5 * time.Minute
	}
	return &Server{cfg: cfg, d: d, logger: logger.With("component", "flightsql"), opts: opts}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("flight sql listener already started")
	}
	if s.d == nil {
		return fmt.Errorf("flight sql dispatcher is not configured")
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen flight sql: %w", err)
	}
	grpcSrv := grpc.NewServer(s.opts...)
	qs := newQueryServer(s.d, s.cfg.Version, s.cfg.PendingTTL, s.logger)
	arrowflight.RegisterFlightServiceServer(grpcSrv, arrowflightsql.NewFlightServer(qs))
	healthSrv := grpcHealth.NewServer()
	healthSrv.SetServingStatus("", grpcHealthV1.HealthCheckResponse_SERVING)
	grpcHealthV1.RegisterHealthServer(grpcSrv, healthSrv)

	s.ln = ln
	s.grpcServer = grpcSrv
	s.health = healthSrv
	s.wg.Add(1)
	go s.serveLoop()
	s.logger.Info("Flight SQL listener started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the listener, waiting for in-flight streams until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	grpcSrv := s.grpcServer
	health := s.health
	s.ln = nil
	s.grpcServer = nil
	s.health = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	if health != nil {
		health.Shutdown()
	}

	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
			return fmt.Errorf("flight sql shutdown: %w", ctx.Err())
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flight sql shutdown wait: %w", ctx.Err())
	}
}

func (s *Server) serveLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	ln := s.ln
	grpcSrv := s.grpcServer
	s.mu.Unlock()

	if ln == nil || grpcSrv == nil {
		return
	}
	if err := grpcSrv.Serve(ln); err != nil {
		s.logger.Debug("flight sql gRPC server stopped", "error", err)
	}
}
