package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisAvailable(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DialTimeout: 100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisAllowAndDeny(t *testing.T) {
	client := redisAvailable(t)
	defer client.Close()
	ctx := context.Background()

	l := NewRedis(client, "test.budget.", 2, time.Minute)
	client.Del(ctx, "test.budget.sub-1", "test.budget.sub-2")
	t.Cleanup(func() { client.Del(context.Background(), "test.budget.sub-1", "test.budget.sub-2") })

	for i := 0; i < 2; i++ {
		allowed, _, err := l.Allow(ctx, "sub-1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d denied under budget", i)
		}
	}
	allowed, retryAfter, err := l.Allow(ctx, "sub-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("over-budget request allowed")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retryAfter = %v", retryAfter)
	}

	// Budgets are per subscriber.
	if allowed, _, _ := l.Allow(ctx, "sub-2"); !allowed {
		t.Error("separate subscriber throttled")
	}
}
