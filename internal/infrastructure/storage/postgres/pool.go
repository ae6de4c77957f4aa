// Package postgres hosts tracked tables and their history in PostgreSQL.
// History lives in one list-partitioned table, audit_history, with one
// partition per tracked table and guard triggers on every partition.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"chronolog/pkg/logger"
)

// applicationName tags host sessions so capture traffic is visible in pg_stat_activity.
const applicationName = "chronolog"

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig sizes the pool for a CLI process: one unit of work at a
// time plus a spare for catalog reads.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 5 * time.Minute,
	}
}

// Pool is the connection pool of a postgres host.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings the host.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping host: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Release logs how many connections the units of work acquired and closes the pool.
func (p *Pool) Release(ctx context.Context) {
	if p == nil || p.Pool == nil {
		return
	}
	stat := p.Stat()
	logger.Debug(ctx, "postgres pool released",
		"acquires", stat.AcquireCount(),
		"acquire_wait", stat.AcquireDuration(),
		"max_conns", stat.MaxConns(),
	)
	p.Pool.Close()
}
