// Package redis connects to the Redis instance used for short-lived keys
// such as dispatch idempotency markers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyURL = errors.New("empty redis url")
	ErrNotReady = errors.New("redis did not become ready")
)

// Config contains Redis connection configuration.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Connect parses cfg.URL and pings the server until it answers or the
// retry budget is spent.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	attempts := max(cfg.RetryAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			slog.Info("connected to redis", "addr", opts.Addr, "attempts", attempt)
			return client, nil
		}
		_ = client.Close()

		if attempt == attempts {
			break
		}

		slog.Warn("redis not reachable, retrying", "attempt", attempt, "error", lastErr)

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrNotReady, lastErr)
}

// Healthcheck returns a readiness probe for client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}
