package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewDBPool(ctx context.Context, dbURL string, maxConns int) (*pgxpool.Pool, error) {
	if maxConns < 2 {
		maxConns = 2
	}

	url := fmt.Sprintf("%s?pool_max_conns=%d", dbURL, maxConns)

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	config.MaxConnIdleTime = 30 * time.Second

	return pgxpool.NewWithConfig(ctx, config)
}
