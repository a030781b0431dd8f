// Package db opens the PostgreSQL pool and bootstraps the schema.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// TableEnsurer creates its table when missing.
type TableEnsurer interface {
	EnsureTable(ctx context.Context) error
}

// EnsureSchema runs each EnsureTable in order. Order matters: referenced
// tables come first.
func EnsureSchema(ctx context.Context, tables ...TableEnsurer) error {
	for i, t := range tables {
		if err := t.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure table %d (%T): %w", i, t, err)
		}
	}
	return nil
}
