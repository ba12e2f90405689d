package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/todoflow/server/internal/port/outbound"
)

const cacheKeyPrefix = "todoflow:cache:"

// keyValueCache implements outbound.KeyValueStorePort on Redis.
type keyValueCache struct {
	client redis.UniversalClient
}

// NewKeyValueCache creates a Redis-backed local cache adapter.
func NewKeyValueCache(client redis.UniversalClient) outbound.KeyValueStorePort {
	return &keyValueCache{client: client}
}

func (c *keyValueCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, outbound.ErrKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

func (c *keyValueCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, cacheKeyPrefix+key, value, 0).Err()
}

func (c *keyValueCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, cacheKeyPrefix+key).Err()
}

// Compile-time check
var _ outbound.KeyValueStorePort = (*keyValueCache)(nil)
