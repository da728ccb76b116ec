package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers keys of dispatch requests already accepted.
type IdempotencyStore interface {
	// Reserve returns false when key was reserved before and has not expired.
	Reserve(ctx context.Context, key string) (bool, error)
	// Release forgets key so that the request can be retried.
	Release(ctx context.Context, key string) error
}

const idempotencyKeyPrefix = "alertrelay:dispatch:idem:"

// RedisIdempotency keeps idempotency keys in Redis with a TTL.
type RedisIdempotency struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisIdempotency creates a Redis backed idempotency store.
func NewRedisIdempotency(client redis.UniversalClient, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (s *RedisIdempotency) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotency) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
