// Package ratelimit implements a fixed-window request counter backed by
// Redis. The send engine's HTTP handlers and cron ticks are not guaranteed
// to run in one process, so the counter lives in shared storage rather
// than process memory. A nil limiter (no Redis configured) allows
// everything, which is the accepted single-instance degradation.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// New creates a limiter allowing limit requests per window.
func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: int64(limit), window: window}
}

// Allow reports whether one more request under key fits in the current
// window. Redis errors fail open: a degraded limiter must not block
// legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}

	window := time.Now().Unix() / int64(l.window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		l.client.Expire(ctx, redisKey, l.window)
	}
	return count <= l.limit
}
