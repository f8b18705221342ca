// Package storage holds the durable and shared state of the pipeline: job
// stores, the delivery ledger and the per-job lock.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/sevigo/review-pipeline/internal/config"
)

// NewRedisClient connects to Redis and verifies the connection. The
// returned func closes the client.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, func(), error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, func() {}, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return cli, func() {
		if err := cli.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}, nil
}
