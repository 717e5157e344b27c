package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue is the in-process queue used in tests and single-node dev runs.
// Semantics match RedisQueue except durability.
type MemoryQueue[T any] struct {
	mu            sync.Mutex
	cond          *sync.Cond
	ready         []T
	delayed       delayedHeap[T]
	dlq           []deadLetter[T]
	highWaterMark int64
	closed        bool
}

// NewMemory creates a MemoryQueue. highWaterMark <= 0 disables backpressure.
func NewMemory[T any](highWaterMark int64) *MemoryQueue[T] {
	q := &MemoryQueue[T]{highWaterMark: highWaterMark}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue[T]) Enqueue(ctx context.Context, msg T, essential bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !essential && q.highWaterMark > 0 && int64(len(q.ready)) >= q.highWaterMark {
		return ErrBackpressure
	}
	q.ready = append(q.ready, msg)
	q.cond.Signal()
	return nil
}

func (q *MemoryQueue[T]) Pop(ctx context.Context, wait time.Duration) (*T, error) {
	deadline := time.Now().Add(wait)

	// Wake the cond var when the wait expires or the context ends; Wait
	// cannot observe either by itself.
	timer := time.AfterFunc(wait, func() { q.cond.Broadcast() })
	defer timer.Stop()
	stopCtx := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stopCtx()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		q.promoteDueLocked(time.Now())
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			return &msg, nil
		}
		if q.closed || ctx.Err() != nil || !time.Now().Before(deadline) {
			return nil, ErrEmpty
		}
		q.cond.Wait()
	}
}

func (q *MemoryQueue[T]) Reschedule(ctx context.Context, msg T, availableAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.delayed, delayedItem[T]{payload: msg, availableAt: availableAt.UnixMilli()})
	// Wake poppers so their next loop promotes due messages.
	time.AfterFunc(time.Until(availableAt)+time.Millisecond, func() { q.cond.Broadcast() })
	return nil
}

func (q *MemoryQueue[T]) DeadLetter(ctx context.Context, msg T, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, deadLetter[T]{
		Message:      msg,
		Reason:       reason,
		DeadLettered: time.Now().UnixMilli(),
	})
	return nil
}

func (q *MemoryQueue[T]) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

// DeadLetters returns a copy of the DLQ payloads; test helper.
func (q *MemoryQueue[T]) DeadLetters() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.dlq))
	for i, d := range q.dlq {
		out[i] = d.Message
	}
	return out
}

func (q *MemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

// promoteDueLocked moves due delayed messages onto the ready lane.
func (q *MemoryQueue[T]) promoteDueLocked(now time.Time) {
	nowMs := now.UnixMilli()
	for q.delayed.Len() > 0 && q.delayed[0].availableAt <= nowMs {
		item := heap.Pop(&q.delayed).(delayedItem[T])
		q.ready = append(q.ready, item.payload)
	}
}

// delayedHeap orders messages by due time.
type delayedHeap[T any] []delayedItem[T]

func (h delayedHeap[T]) Len() int           { return len(h) }
func (h delayedHeap[T]) Less(i, j int) bool { return h[i].availableAt < h[j].availableAt }
func (h delayedHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap[T]) Push(x any)        { *h = append(*h, x.(delayedItem[T])) }
func (h *delayedHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
