package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/todoflow/server/internal/shared/config"
)

// NewRedisClient creates a Redis client for the local cache and verifies
// the connection.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
