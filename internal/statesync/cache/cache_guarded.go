package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"legisla/pkg/platform/circuit"
	"legisla/pkg/platform/sentinel"
)

// Backend is the cache contract shared by the memory and Redis caches.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GuardedCache stops calling next while its breaker is open, so a Redis
// outage costs terminals one failed round trip per cooldown instead of one
// per poll. Rejected calls return sentinel.ErrUnavailable.
type GuardedCache struct {
	next    Backend
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next Backend, breaker *circuit.Breaker, logger *slog.Logger) *GuardedCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedCache{next: next, breaker: breaker, logger: logger}
}

func (c *GuardedCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, sentinel.ErrUnavailable
	}
	value, err := c.next.Get(ctx, key)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		c.failure(ctx, err)
		return nil, err
	}
	c.success(ctx)
	return value, err
}

func (c *GuardedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.breaker.Allow() {
		return sentinel.ErrUnavailable
	}
	if err := c.next.Set(ctx, key, value, ttl); err != nil {
		c.failure(ctx, err)
		return err
	}
	c.success(ctx)
	return nil
}

func (c *GuardedCache) failure(ctx context.Context, err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "cache circuit opened",
			"breaker", c.breaker.Name(),
			"error", err,
		)
	}
}

func (c *GuardedCache) success(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "cache circuit closed", "breaker", c.breaker.Name())
	}
}
