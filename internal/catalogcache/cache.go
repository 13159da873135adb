package catalogcache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores encoded catalog records.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type redisCache struct {
	client redis.UniversalClient
	jitter time.Duration
}

// NewRedisCache returns a Cache backed by redis. Every TTL is extended by a random
// duration below jitter so entries written together do not expire together.
func NewRedisCache(client redis.UniversalClient, jitter time.Duration) Cache {
	return &redisCache{client: client, jitter: jitter}
}

func (cache *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := cache.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (cache *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return cache.client.Set(ctx, key, value, withJitter(ttl, cache.jitter)).Err()
}

func (cache *redisCache) Delete(ctx context.Context, key string) error {
	return cache.client.Del(ctx, key).Err()
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
