package breaker

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

func cleanupKeys(t *testing.T, client *redis.Client, key string) {
	t.Helper()
	client.Del(context.Background(), failuresPrefix+key, trippedPrefix+key)
}

func TestRedisTripAndReset(t *testing.T) {
	client := redisAvailable(t)
	defer client.Close()
	ctx := context.Background()

	const key = "test-sub-1"
	cleanupKeys(t, client, key)
	t.Cleanup(func() { cleanupKeys(t, client, key) })

	b := NewRedis(client, 3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.RecordFailure(ctx, key); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		until, err := b.TrippedUntil(ctx, key)
		if err != nil {
			t.Fatalf("tripped until: %v", err)
		}
		if !until.IsZero() {
			t.Fatalf("tripped after %d failures", i+1)
		}
	}

	if err := b.RecordFailure(ctx, key); err != nil {
		t.Fatalf("third failure: %v", err)
	}
	until, err := b.TrippedUntil(ctx, key)
	if err != nil {
		t.Fatalf("tripped until: %v", err)
	}
	if until.IsZero() {
		t.Fatal("not tripped at threshold")
	}
	if remaining := time.Until(until); remaining < 50*time.Second || remaining > 70*time.Second {
		t.Errorf("cooldown remaining = %v, want ~1m", remaining)
	}

	if err := b.RecordSuccess(ctx, key); err != nil {
		t.Fatalf("success: %v", err)
	}
	if until, _ := b.TrippedUntil(ctx, key); !until.IsZero() {
		t.Error("still tripped after success reset")
	}
}
