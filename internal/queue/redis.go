package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
)

// moveDueScript atomically moves every due message from the delayed ZSET to
// the ready list. Scores are epoch milliseconds.
// Keys: delayed, ready. Args: now_ms, batch. Returns: moved count.
var moveDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], 0, ARGV[1], 'LIMIT', 0, ARGV[2])
if #due == 0 then
    return 0
end
for _, msg in ipairs(due) do
    redis.call('LPUSH', KEYS[2], msg)
    redis.call('ZREM', KEYS[1], msg)
end
return #due
`)

const (
	moverInterval = time.Second
	moverBatch    = 256
)

// Keys names the three lanes of one queue.
type Keys struct {
	Ready   string
	Delayed string
	DLQ     string
}

// RedisQueue is the production queue. Messages survive process restarts;
// delivery is at-least-once.
type RedisQueue[T any] struct {
	client        redis.UniversalClient
	keys          Keys
	highWaterMark int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRedis creates a RedisQueue and starts the delayed-lane mover.
func NewRedis[T any](client redis.UniversalClient, keys Keys, highWaterMark int64) *RedisQueue[T] {
	q := &RedisQueue[T]{
		client:        client,
		keys:          keys,
		highWaterMark: highWaterMark,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go q.runMover()
	return q
}

func (q *RedisQueue[T]) Enqueue(ctx context.Context, msg T, essential bool) error {
	if !essential && q.highWaterMark > 0 {
		depth, err := q.client.LLen(ctx, q.keys.Ready).Result()
		if err == nil && depth >= q.highWaterMark {
			metrics.QueueDepth.WithLabelValues(q.keys.Ready).Set(float64(depth))
			return ErrBackpressure
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal: %w", err)
	}
	if err := q.client.LPush(ctx, q.keys.Ready, raw).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue[T]) Pop(ctx context.Context, wait time.Duration) (*T, error) {
	res, err := q.client.BRPop(ctx, wait, q.keys.Ready).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: pop: %w", err)
	}
	// BRPOP returns [key, value].
	var msg T
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		// Unparseable payloads go straight to the DLQ rather than looping.
		q.client.LPush(ctx, q.keys.DLQ, res[1])
		metrics.DeadLettered.WithLabelValues(q.keys.DLQ).Inc()
		return nil, fmt.Errorf("queue: corrupt message dead-lettered: %w", err)
	}
	return &msg, nil
}

func (q *RedisQueue[T]) Reschedule(ctx context.Context, msg T, availableAt time.Time) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.keys.Delayed, redis.Z{
		Score:  float64(availableAt.UnixMilli()),
		Member: raw,
	}).Err(); err != nil {
		return fmt.Errorf("queue: reschedule: %w", err)
	}
	return nil
}

func (q *RedisQueue[T]) DeadLetter(ctx context.Context, msg T, reason string) error {
	raw, err := json.Marshal(deadLetter[T]{
		Message:      msg,
		Reason:       reason,
		DeadLettered: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("queue: marshal: %w", err)
	}
	if err := q.client.LPush(ctx, q.keys.DLQ, raw).Err(); err != nil {
		return fmt.Errorf("queue: dead-letter: %w", err)
	}
	metrics.DeadLettered.WithLabelValues(q.keys.DLQ).Inc()
	logging.Warn("message dead-lettered",
		zap.String("queue", q.keys.Ready),
		zap.String("reason", reason))
	return nil
}

func (q *RedisQueue[T]) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, q.keys.Ready).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	metrics.QueueDepth.WithLabelValues(q.keys.Ready).Set(float64(depth))
	return depth, nil
}

func (q *RedisQueue[T]) Close() error {
	q.stopOnce.Do(func() {
		close(q.stop)
		<-q.done
	})
	return nil
}

// runMover promotes due delayed messages once per second.
func (q *RedisQueue[T]) runMover() {
	defer close(q.done)
	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			q.moveDue(ctx, time.Now())
			cancel()
		}
	}
}

// moveDue runs one promotion pass; split out for tests.
func (q *RedisQueue[T]) moveDue(ctx context.Context, now time.Time) int64 {
	res, err := moveDueScript.Run(ctx, q.client,
		[]string{q.keys.Delayed, q.keys.Ready},
		strconv.FormatInt(now.UnixMilli(), 10), moverBatch).Result()
	if err != nil {
		logging.Error("queue: delayed mover", zap.Error(err))
		return 0
	}
	moved, _ := res.(int64)
	if moved > 0 {
		logging.Debug("queue: promoted delayed messages",
			zap.String("queue", q.keys.Ready), zap.Int64("count", moved))
	}
	return moved
}
