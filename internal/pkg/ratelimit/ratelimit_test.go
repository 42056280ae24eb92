package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAllowWithinLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, "webhook") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow(ctx, "webhook") {
		t.Error("request over the limit should be denied")
	}
	// independent key is unaffected
	if !l.Allow(ctx, "test-send") {
		t.Error("separate key should have its own window")
	}
}

func TestNilLimiterAllowsAll(t *testing.T) {
	var l *Limiter
	if !l.Allow(context.Background(), "anything") {
		t.Error("nil limiter must fail open")
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(client, 1, time.Minute)
	mr.Close()

	if !l.Allow(context.Background(), "webhook") {
		t.Error("limiter must fail open on redis errors")
	}
}
