// Package queue is the durable three-lane hand-off used by both the
// ingestion pipeline and the webhook deliverer: ready (FIFO), delayed (retry
// backoff, sorted by the moment a message becomes due) and a dead-letter
// lane for messages that exhausted their retries or failed permanently.
//
// The queue is generic over its payload; retry counters live inside the
// payload, the due time lives in the lane itself.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Pop when no message became ready within the wait.
var ErrEmpty = errors.New("queue: empty")

// ErrBackpressure is returned by Enqueue when the ready lane is above the
// high-water mark and the message is shed.
var ErrBackpressure = errors.New("queue: over high-water mark")

// Queue is the durable three-lane queue.
type Queue[T any] interface {
	// Enqueue appends to the ready lane. Essential messages bypass the
	// high-water check.
	Enqueue(ctx context.Context, msg T, essential bool) error
	// Pop blocks up to wait for the next ready message.
	Pop(ctx context.Context, wait time.Duration) (*T, error)
	// Reschedule places the message in the delayed lane until availableAt.
	Reschedule(ctx context.Context, msg T, availableAt time.Time) error
	// DeadLetter moves the message to the DLQ with a reason.
	DeadLetter(ctx context.Context, msg T, reason string) error
	// Depth returns the ready-lane length.
	Depth(ctx context.Context) (int64, error)
	// Close releases resources and stops background movers.
	Close() error
}

// deadLetter is the DLQ envelope: the original message plus why it died.
type deadLetter[T any] struct {
	Message      T      `json:"message"`
	Reason       string `json:"reason"`
	DeadLettered int64  `json:"dead_lettered_at"` // epoch ms
}

// delayedItem pairs a payload with its due time in the in-memory lane.
type delayedItem[T any] struct {
	payload     T
	availableAt int64 // epoch ms
}
