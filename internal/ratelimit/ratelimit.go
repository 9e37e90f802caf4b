// Package ratelimit provides a fixed-window per-user request limiter
// backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key in fixed windows. The first increment in
// a window sets the expiry; once the counter passes the limit, Allow
// reports false until the window rolls over.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow consumes one unit for the key and reports whether the request is
// within the limit, along with how many units remain.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("set rate window: %w", err)
		}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= l.limit, remaining, nil
}

// Remaining reports how many units the key has left without consuming one.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := l.client.Get(ctx, l.prefix+key).Int()
	if err == redis.Nil {
		return l.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate counter: %w", err)
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
