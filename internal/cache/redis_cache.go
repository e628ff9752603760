package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"invenda/backend/internal/domain"
)

type RedisUsageCache struct {
	client redis.UniversalClient
}

func NewRedisUsageCache(addr string, password string, db int) *RedisUsageCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisUsageCache{client: client}
}

func (c *RedisUsageCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisUsageCache) Close() error {
	return c.client.Close()
}

func (c *RedisUsageCache) Get(ctx context.Context, ownerID string) (*domain.UsageStats, bool, error) {
	val, err := c.client.Get(ctx, usageKey(ownerID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stats domain.UsageStats
	if err := json.Unmarshal([]byte(val), &stats); err != nil {
		return nil, false, err
	}
	return &stats, true, nil
}

func (c *RedisUsageCache) Set(ctx context.Context, ownerID string, value *domain.UsageStats, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, usageKey(ownerID), payload, ttl).Err()
}

func (c *RedisUsageCache) Delete(ctx context.Context, ownerID string) error {
	return c.client.Del(ctx, usageKey(ownerID)).Err()
}
