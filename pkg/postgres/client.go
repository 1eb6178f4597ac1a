// Package postgres holds the PostgreSQL client used to record index rebuild
// requests, so that an operator or a rebuild job can pick them up.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_rebuild_requests (
	index_id     TEXT PRIMARY KEY,
	reason       TEXT NOT NULL,
	requests     BIGINT NOT NULL DEFAULT 1,
	requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	resolved_at  TIMESTAMPTZ
)`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// EnsureSchema creates the rebuild request table if it is missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating rebuild request table: %w", err)
	}
	return nil
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RecordRebuild upserts an open rebuild request for index. Repeated requests
// for an open entry only bump its counter and reason.
func (c *Client) RecordRebuild(ctx context.Context, index, reason string) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO index_rebuild_requests (index_id, reason)
			VALUES ($1, $2)
			ON CONFLICT (index_id) DO UPDATE SET
				reason = EXCLUDED.reason,
				requests = CASE WHEN index_rebuild_requests.resolved_at IS NULL
					THEN index_rebuild_requests.requests + 1 ELSE 1 END,
				requested_at = CASE WHEN index_rebuild_requests.resolved_at IS NULL
					THEN index_rebuild_requests.requested_at ELSE NOW() END,
				resolved_at = NULL`,
			index, reason,
		)
		if err != nil {
			return fmt.Errorf("recording rebuild request for %s: %w", index, err)
		}
		return nil
	})
}

// ResolveRebuild closes the open rebuild request of index, if any.
func (c *Client) ResolveRebuild(ctx context.Context, index string) error {
	_, err := c.DB.ExecContext(ctx,
		`UPDATE index_rebuild_requests SET resolved_at = NOW() WHERE index_id = $1 AND resolved_at IS NULL`,
		index,
	)
	if err != nil {
		return fmt.Errorf("resolving rebuild request for %s: %w", index, err)
	}
	return nil
}
