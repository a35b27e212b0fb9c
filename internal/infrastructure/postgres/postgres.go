// Package postgres backs the repositories with database/sql over lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate creates the tables when they are missing. Idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			school_id TEXT NOT NULL,
			items JSONB NOT NULL,
			total_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			delivery_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			confirmed_at TIMESTAMPTZ,
			preparing_at TIMESTAMPTZ,
			ready_at TIMESTAMPTZ,
			out_for_delivery_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			refunded_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			order_id TEXT PRIMARY KEY,
			items JSONB NOT NULL,
			status TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock (
			menu_item_id TEXT PRIMARY KEY,
			available INT NOT NULL DEFAULT 0,
			held INT NOT NULL DEFAULT 0,
			confirmed INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS payment_attempts (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			method TEXT NOT NULL,
			outcome TEXT NOT NULL,
			raw_response TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payment_attempts_order_idx ON payment_attempts (order_id)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
