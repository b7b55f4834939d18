// Package main is the entry point for the vectorgate data service. It opens
// the DuckDB backend and the SQLite audit store, then serves the data API over
// HTTP, gRPC and Arrow Flight SQL until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"vectorgate/internal/app"
	"vectorgate/internal/config"
	internaldb "vectorgate/internal/db"
	"vectorgate/internal/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	duck, err := engine.Open(ctx, cfg.DuckDBPath)
	if err != nil {
		return err
	}
	defer duck.Close()

	auditDB, err := internaldb.OpenSQLite(cfg.AuditDBPath, internaldb.ModeWrite, 1)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditDB.Close()
	if err := internaldb.RunMigrations(ctx, auditDB); err != nil {
		return fmt.Errorf("migrate audit store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	application, err := app.New(ctx, app.Deps{
		Cfg:      cfg,
		DuckDB:   duck,
		AuditDB:  auditDB,
		Logger:   logger,
		Registry: reg,
	})
	if err != nil {
		return err
	}
	defer application.Close()

	logger.Info("vectorgate starting",
		"version", cfg.ServerVersion,
		"env", cfg.Env,
		"duckdb", cfg.DuckDBPath,
		"audit_db", cfg.AuditDBPath,
	)
	if err := application.Run(ctx); err != nil {
		return err
	}
	logger.Info("vectorgate stopped")
	return nil
}
