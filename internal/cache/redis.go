package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirku/backend/internal/domain"
)

type RedisSyncStatusCache struct {
	client *redis.Client
}

func NewRedisSyncStatusCache(addr string, password string, db int) *RedisSyncStatusCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSyncStatusCache{client: client}
}

func (c *RedisSyncStatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSyncStatusCache) Close() error {
	return c.client.Close()
}

func (c *RedisSyncStatusCache) Get(ctx context.Context, key string) (*domain.SyncStatus, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status domain.SyncStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, false, err
	}
	return &status, true, nil
}

func (c *RedisSyncStatusCache) Set(ctx context.Context, key string, value *domain.SyncStatus, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisSyncStatusCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
