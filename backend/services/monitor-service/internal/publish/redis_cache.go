package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"packmon/backend/services/monitor-service/internal/state"
)

// RedisCache keeps the latest snapshot under a per-device key.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns redis-backed cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Name implements Sink.
func (c *RedisCache) Name() string {
	return "redis"
}

func latestKey(deviceID string) string {
	return fmt.Sprintf("packmon:%s:latest", deviceID)
}

// Publish overwrites the cached snapshot.
func (c *RedisCache) Publish(ctx context.Context, snap state.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, latestKey(snap.DeviceID), data, c.ttl).Err()
}
