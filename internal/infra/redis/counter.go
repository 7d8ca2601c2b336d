package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter backs the rate limiter with shared Redis windows, so ceilings hold
// across instances. Keys are INCRed and given the window TTL on first hit.
type Counter struct {
	client *redis.Client
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	full := "ratelimit:" + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	ttl := pipe.TTL(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	count := incr.Val()
	remaining := ttl.Val()
	if remaining < 0 {
		// First hit of a window, or a key left without expiry by a crash
		// between INCR and EXPIRE.
		if err := c.client.Expire(ctx, full, window).Err(); err != nil {
			return 0, 0, err
		}
		remaining = window
	}
	return count, remaining, nil
}
