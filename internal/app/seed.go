package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

var demoStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS sales`,
	`CREATE TABLE sales.customers (
		id INTEGER NOT NULL,
		name VARCHAR NOT NULL,
		email VARCHAR,
		region VARCHAR
	)`,
	`CREATE TABLE sales.orders (
		id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		region VARCHAR,
		amount DECIMAL(10,2),
		placed_at TIMESTAMP
	)`,
	`INSERT INTO sales.customers VALUES
		(1, 'Ada Lovelace', 'ada@example.com', 'eu'),
		(2, 'Grace Hopper', 'grace@example.com', 'us'),
		(3, 'Alan Turing', 'alan@example.com', 'eu'),
		(4, 'Katherine Johnson', NULL, 'us')`,
	`INSERT INTO sales.orders
		SELECT i, 1 + (i % 4), CASE WHEN i % 2 = 0 THEN 'eu' ELSE 'us' END,
			CAST((i * 37) % 500 AS DECIMAL(10,2)) + 0.99,
			TIMESTAMP '2024-01-01 00:00:00' + to_hours(i)
		FROM range(1, 10001) t(i)`,
}

// seedDemo creates a small sales schema so a fresh instance has something to
// query. Idempotent: an existing sales.orders table is left alone.
func seedDemo(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'sales' AND table_name = 'orders'`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check demo data: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, stmt := range demoStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	logger.Info("demo data seeded", "schema", "sales", "tables", 2)
	return nil
}
