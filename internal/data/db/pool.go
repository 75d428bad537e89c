package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
	"github.com/yungbote/projectmatch-backend/internal/utils"
)

// NewQueryPool opens the pgx connection pool used by retrieval SQL.
// Retrieval runs three tracks concurrently per turn, so the pool is
// sized independently of the GORM connection.
func NewQueryPool(ctx context.Context, logg *logger.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(DSN(logg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx pool config: %w", err)
	}

	cfg.MaxConns = int32(utils.GetEnvAsInt("POSTGRES_POOL_MAX_CONNS", 10, logg))
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres via pgx pool: %w", err)
	}

	return pool, nil
}
