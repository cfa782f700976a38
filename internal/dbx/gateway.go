// Package dbx is the persistence gateway (C1): pooled, parameterized query
// execution and transaction scopes with row-level locking. No operation in
// this package accepts a raw SQL fragment composed with caller-controlled
// input — values travel only through pgx placeholder bindings ($1, $2, ...).
package dbx

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Gateway executes one-shot parameterized queries against a pooled
// connection and opens transaction scopes. Queries that exceed
// SlowQueryThreshold are logged at warn level with their duration, never
// their bound argument values (those may carry user-submitted secrets).
type Gateway struct {
	pool             *pgxpool.Pool
	logger           *slog.Logger
	slowQueryThreshold time.Duration
}

// New creates a Gateway over the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger, slowQueryThreshold time.Duration) *Gateway {
	if slowQueryThreshold <= 0 {
		slowQueryThreshold = time.Second
	}
	return &Gateway{pool: pool, logger: logger, slowQueryThreshold: slowQueryThreshold}
}

// Pool returns the underlying pool, for components (like the migrator or
// readiness probe) that need it directly.
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

// Query runs a parameterized query and returns the resulting rows.
func (g *Gateway) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	start := time.Now()
	rows, err := g.pool.Query(ctx, sql, args...)
	g.logSlow(start, sql)
	return rows, err
}

// QueryRow runs a parameterized query expected to return at most one row.
func (g *Gateway) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	start := time.Now()
	row := g.pool.QueryRow(ctx, sql, args...)
	g.logSlow(start, sql)
	return row
}

// Exec runs a parameterized statement that does not return rows.
func (g *Gateway) Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error) {
	start := time.Now()
	tag, err := g.pool.Exec(ctx, sql, args...)
	g.logSlow(start, sql)
	return tag, err
}

// Ping verifies connectivity, used by readiness probes.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

func (g *Gateway) logSlow(start time.Time, sql string) {
	if elapsed := time.Since(start); elapsed >= g.slowQueryThreshold {
		g.logger.Warn("slow query", "duration_ms", elapsed.Milliseconds(), "query", sql)
	}
}
