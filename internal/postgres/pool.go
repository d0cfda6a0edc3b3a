// Package postgres builds the pgx pool shared by the PostgreSQL-backed stores
// and instruments every query with a span, a log line and a metrics hook.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes NewPool. The zero value is usable.
type PoolOptions struct {
	// MaxConns caps the pool; 0 keeps the pgxpool default.
	MaxConns int32
	// LogMinDuration suppresses log lines for successful queries faster than this.
	LogMinDuration time.Duration
	// Department tags every query span and log line.
	Department string
}

// NewPool parses databaseURL, installs the query tracer and verifies the
// connection.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	pc.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), opts.LogMinDuration, opts.Department)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
