package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skytrack/skytrack/internal/model"
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

func newTestRedisQueue(t *testing.T) (*RedisQueue[model.QueueMessage], *redis.Client) {
	t.Helper()
	client := redisAvailable(t)
	keys := Keys{
		Ready:   "test.queue.ready",
		Delayed: "test.queue.delayed",
		DLQ:     "test.queue.dlq",
	}
	ctx := context.Background()
	client.Del(ctx, keys.Ready, keys.Delayed, keys.DLQ)
	q := NewRedis[model.QueueMessage](client, keys, 0)
	t.Cleanup(func() {
		q.Close()
		client.Del(ctx, keys.Ready, keys.Delayed, keys.DLQ)
		client.Close()
	})
	return q, client
}

func TestRedisEnqueuePop(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testMsg("abc123"), false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if msg.State.Icao24 != "abc123" {
		t.Errorf("icao24 = %s", msg.State.Icao24)
	}
	if msg.Source != "free-network" || msg.SourcePriority != 30 {
		t.Errorf("provenance = %s/%d", msg.Source, msg.SourcePriority)
	}
}

func TestRedisDelayedMover(t *testing.T) {
	q, client := newTestRedisQueue(t)
	ctx := context.Background()

	due := time.Now().Add(-time.Second) // already due
	notDue := time.Now().Add(time.Hour)
	q.Reschedule(ctx, testMsg("aaaaaa"), due)
	q.Reschedule(ctx, testMsg("bbbbbb"), notDue)

	moved := q.moveDue(ctx, time.Now())
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}

	msg, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if msg.State.Icao24 != "aaaaaa" {
		t.Errorf("promoted icao24 = %s", msg.State.Icao24)
	}

	if n, _ := client.ZCard(ctx, q.keys.Delayed).Result(); n != 1 {
		t.Errorf("delayed remaining = %d, want 1", n)
	}
}

func TestRedisDeadLetter(t *testing.T) {
	q, client := newTestRedisQueue(t)
	ctx := context.Background()

	msg := testMsg("abc123")
	msg.Retries = 3
	if err := q.DeadLetter(ctx, msg, "max retries exhausted"); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if n, _ := client.LLen(ctx, q.keys.DLQ).Result(); n != 1 {
		t.Errorf("dlq length = %d, want 1", n)
	}
}

func TestRedisBackpressure(t *testing.T) {
	client := redisAvailable(t)
	keys := Keys{
		Ready:   "test.queue.hwm.ready",
		Delayed: "test.queue.hwm.delayed",
		DLQ:     "test.queue.hwm.dlq",
	}
	ctx := context.Background()
	client.Del(ctx, keys.Ready, keys.Delayed, keys.DLQ)
	q := NewRedis[model.QueueMessage](client, keys, 1)
	t.Cleanup(func() {
		q.Close()
		client.Del(ctx, keys.Ready, keys.Delayed, keys.DLQ)
		client.Close()
	})

	if err := q.Enqueue(ctx, testMsg("aaaaaa"), false); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testMsg("bbbbbb"), false); err != ErrBackpressure {
		t.Errorf("second enqueue: err = %v, want ErrBackpressure", err)
	}
	if err := q.Enqueue(ctx, testMsg("cccccc"), true); err != nil {
		t.Errorf("essential enqueue: %v", err)
	}
}
