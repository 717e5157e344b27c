package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript counts deliveries in a rolling window with a sorted
// set. Scores and the window are milliseconds.
// Keys: budget key. Args: now_ms, window_ms, limit.
// Returns: [allowed (0/1), retry_after_ms]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
    redis.call('PEXPIRE', key, window)
    return {1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if #oldest >= 2 then
    retry = tonumber(oldest[2]) + window - now
end
return {0, retry}
`)

// Redis is the shared limiter: horizontally scaled deliverers draw from one
// budget per subscriber.
type Redis struct {
	client redis.UniversalClient
	prefix string
	rate   int
	period time.Duration
}

// NewRedis creates a shared limiter allowing rate events per period.
func NewRedis(client redis.UniversalClient, prefix string, rate int, period time.Duration) *Redis {
	if period <= 0 {
		period = time.Minute
	}
	if prefix == "" {
		prefix = "webhook.budget."
	}
	return &Redis{client: client, prefix: prefix, rate: rate, period: period}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		time.Now().UnixMilli(), r.period.Milliseconds(), r.rate).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed, _ := vals[0].(int64)
	retryMs, _ := vals[1].(int64)
	return allowed == 1, time.Duration(retryMs) * time.Millisecond, nil
}
