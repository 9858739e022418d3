package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, databaseURL string, maxConns, minConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema if it does not exist yet. Idempotent; both
// binaries run it on startup when migrations are enabled.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			uid           TEXT PRIMARY KEY,
			balance       BIGINT NOT NULL DEFAULT 0,
			loan_balance  BIGINT NOT NULL DEFAULT 0,
			credit_limit  BIGINT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (balance >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS stocks (
			ticker          TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			price_cents     BIGINT NOT NULL DEFAULT 0,
			ref_ticker      TEXT NOT NULL DEFAULT '',
			ref_price_cents BIGINT NOT NULL DEFAULT 0,
			multiplier      DOUBLE PRECISION NOT NULL DEFAULT 1,
			last_sync_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			uid         TEXT NOT NULL,
			ticker      TEXT NOT NULL,
			quantity    BIGINT NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (uid, ticker, recorded_at)
		)`,
		`CREATE INDEX IF NOT EXISTS holdings_latest
			ON holdings (uid, ticker, recorded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			ticker      TEXT NOT NULL,
			year        INT NOT NULL,
			month       INT NOT NULL,
			day         INT NOT NULL,
			open_cents  BIGINT NOT NULL,
			high_cents  BIGINT NOT NULL,
			low_cents   BIGINT NOT NULL,
			close_cents BIGINT NOT NULL,
			PRIMARY KEY (ticker, year, month, day)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id                     BIGSERIAL PRIMARY KEY,
			type                   TEXT NOT NULL,
			uid                    TEXT NOT NULL,
			ticker                 TEXT NOT NULL DEFAULT '',
			quantity               BIGINT NOT NULL DEFAULT 0,
			price_cents            BIGINT NOT NULL DEFAULT 0,
			total_cents            BIGINT NOT NULL DEFAULT 0,
			balance_change         BIGINT NOT NULL DEFAULT 0,
			credit_change          BIGINT NOT NULL DEFAULT 0,
			destination            TEXT NOT NULL DEFAULT '',
			destination_is_account BOOLEAN NOT NULL DEFAULT FALSE,
			memo                   TEXT NOT NULL DEFAULT '',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_by_uid
			ON transactions (uid, id DESC)`,
		`CREATE TABLE IF NOT EXISTS items (
			item_id     TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			type        TEXT NOT NULL DEFAULT '',
			value_cents BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			uid      TEXT NOT NULL,
			item_id  TEXT NOT NULL,
			quantity BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (uid, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			level_id      TEXT PRIMARY KEY,
			bounty_cents  BIGINT NOT NULL DEFAULT 0,
			name          TEXT NOT NULL DEFAULT '',
			creator_uid   TEXT NOT NULL DEFAULT '',
			requester_uid TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			name TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
