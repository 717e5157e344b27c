package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skytrack/skytrack/internal/metrics"
)

// failureScript counts a failure and trips the breaker when the threshold is
// crossed inside the window. The failure counter's TTL is the rolling window.
// Keys: failures, tripped_until. Args: threshold, cooldown_seconds, now_unix.
// Returns: tripped_until (0 when not tripped).
var failureScript = redis.NewScript(`
local failures = redis.call('INCR', KEYS[1])
if failures == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end

local tripped = tonumber(redis.call('GET', KEYS[2]) or '0')
local now = tonumber(ARGV[3])
if failures >= tonumber(ARGV[1]) and tripped <= now then
    tripped = now + tonumber(ARGV[2])
    redis.call('SET', KEYS[2], tripped, 'EX', ARGV[2])
    redis.call('DEL', KEYS[1])
    return tripped
end
if tripped > now then
    return tripped
end
return 0
`)

const (
	failuresPrefix = "webhook.breaker.failures."
	trippedPrefix  = "webhook.breaker.tripped."
)

// Redis shares breaker state across horizontally scaled deliverers.
type Redis struct {
	client    redis.UniversalClient
	threshold int
	cooldown  time.Duration
}

// NewRedis creates a shared breaker.
func NewRedis(client redis.UniversalClient, threshold int, cooldown time.Duration) *Redis {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Redis{client: client, threshold: threshold, cooldown: cooldown}
}

func (b *Redis) TrippedUntil(ctx context.Context, key string) (time.Time, error) {
	until, err := b.client.Get(ctx, trippedPrefix+key).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("breaker: redis get: %w", err)
	}
	t := time.Unix(until, 0)
	if time.Now().After(t) {
		return time.Time{}, nil
	}
	return t, nil
}

func (b *Redis) RecordSuccess(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, failuresPrefix+key, trippedPrefix+key).Err(); err != nil {
		return fmt.Errorf("breaker: redis reset: %w", err)
	}
	return nil
}

func (b *Redis) RecordFailure(ctx context.Context, key string) error {
	cooldownSec := int64(b.cooldown / time.Second)
	res, err := failureScript.Run(ctx, b.client,
		[]string{failuresPrefix + key, trippedPrefix + key},
		b.threshold, cooldownSec, time.Now().Unix()).Result()
	if err != nil {
		return fmt.Errorf("breaker: redis failure: %w", err)
	}
	if until, ok := res.(int64); ok && until > 0 && until > time.Now().Unix()+cooldownSec-2 {
		// A fresh trip; re-trips inside the window return the same value.
		metrics.BreakerTrips.Inc()
	}
	return nil
}
