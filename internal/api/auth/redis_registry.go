package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "rues:apikey:"

// RedisRegistry keeps issued keys in Redis so several API instances share
// them. Expiry is delegated to the key TTL.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisRegistry wraps an existing go-redis client
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisRegistry{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Store sets the key with a TTL matching expiresAt
func (r *RedisRegistry) Store(ctx context.Context, key string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.prefix+key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store api key: %w", err)
	}
	return nil
}

// Lookup reports whether the key still exists
func (r *RedisRegistry) Lookup(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up api key: %w", err)
	}
	return n > 0, nil
}

// Ping checks the Redis connection
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
