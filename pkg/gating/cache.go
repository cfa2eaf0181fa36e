package gating

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parishkit/parishkit/pkg/billing"
)

// StatusCache caches the parish aggregate status so the gating hot path
// does not hit the store on every protected request. Writers invalidate
// by key; a miss falls through to the store.
type StatusCache interface {
	Get(ctx context.Context, parishID string) (billing.ParishStatus, bool)
	Set(ctx context.Context, parishID string, status billing.ParishStatus) error
	Delete(ctx context.Context, parishID string) error
}

// NoopCache disables caching; every check reads the store.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, parishID string) (billing.ParishStatus, bool) {
	return "", false
}

func (NoopCache) Set(ctx context.Context, parishID string, status billing.ParishStatus) error {
	return nil
}

func (NoopCache) Delete(ctx context.Context, parishID string) error {
	return nil
}

const statusKeyPrefix = "parish:status:"

// RedisCache stores parish statuses in redis with a short TTL. The TTL
// bounds staleness between a webhook transition and the next cache
// refresh; writers should still Delete on transition for prompt
// gating changes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, parishID string) (billing.ParishStatus, bool) {
	val, err := c.client.Get(ctx, statusKeyPrefix+parishID).Result()
	if err != nil {
		return "", false
	}
	return billing.ParishStatus(val), true
}

func (c *RedisCache) Set(ctx context.Context, parishID string, status billing.ParishStatus) error {
	return c.client.Set(ctx, statusKeyPrefix+parishID, string(status), c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, parishID string) error {
	return c.client.Del(ctx, statusKeyPrefix+parishID).Err()
}
