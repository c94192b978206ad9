package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/agentiq/internal/config"
)

const (
	// connsPerWorker covers a run's progress update racing its result batch.
	connsPerWorker  = 2
	// apiConns is left for handlers and the sweeper.
	apiConns        = 4
	maxConnIdleTime = 5 * time.Minute
	applicationName = "agentiq"
)

// PoolConfig builds the pgx pool settings. MaxConns grows to fit workers
// concurrent job runs when the configured ceiling is lower; workers may be
// zero for short-lived CLI use.
func PoolConfig(cfg config.DatabaseConfig, workers int) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if need := workers*connsPerWorker + apiConns; workers > 0 && need > maxConns {
		maxConns = need
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	minConns := cfg.MaxIdleConns
	if minConns > int(poolCfg.MaxConns) {
		minConns = int(poolCfg.MaxConns)
	}
	if minConns > 0 {
		poolCfg.MinConns = int32(minConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.MaxConnIdleTime = maxConnIdleTime
	if _, set := poolCfg.ConnConfig.RuntimeParams["application_name"]; !set {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return poolCfg, nil
}

// Connect opens and pings a pool sized for workers concurrent job runs.
func Connect(ctx context.Context, cfg config.DatabaseConfig, workers int) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg, workers)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
