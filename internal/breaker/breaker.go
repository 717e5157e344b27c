// Package breaker pauses webhook delivery to endpoints that keep failing.
// State is per subscriber: a failure counter inside a rolling window and a
// tripped-until timestamp. Tripped subscribers get their deliveries
// rescheduled, not dropped.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
)

// Breaker is the per-subscriber circuit breaker.
type Breaker interface {
	// TrippedUntil returns the end of the cooldown, or the zero time when
	// deliveries may proceed.
	TrippedUntil(ctx context.Context, key string) (time.Time, error)
	// RecordSuccess resets the failure counter.
	RecordSuccess(ctx context.Context, key string) error
	// RecordFailure counts one failure; crossing the threshold inside the
	// reset window trips the breaker for the cooldown.
	RecordFailure(ctx context.Context, key string) error
}

type state struct {
	failures     int
	firstFailure time.Time
	trippedUntil time.Time
}

// Local keeps breaker state in process; suitable for a single deliverer.
type Local struct {
	mu        sync.Mutex
	keys      map[string]*state
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewLocal creates a Local breaker tripping after threshold failures within
// the cooldown window.
func NewLocal(threshold int, cooldown time.Duration) *Local {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Local{
		keys:      make(map[string]*state),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (b *Local) TrippedUntil(ctx context.Context, key string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.keys[key]
	if !ok || b.now().After(st.trippedUntil) {
		return time.Time{}, nil
	}
	return st.trippedUntil, nil
}

func (b *Local) RecordSuccess(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, key)
	return nil
}

func (b *Local) RecordFailure(ctx context.Context, key string) error {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.keys[key]
	if !ok || now.Sub(st.firstFailure) > b.cooldown {
		// Stale window: start counting fresh.
		st = &state{firstFailure: now}
		b.keys[key] = st
	}
	st.failures++

	if st.failures >= b.threshold && now.After(st.trippedUntil) {
		st.trippedUntil = now.Add(b.cooldown)
		st.failures = 0
		st.firstFailure = now
		metrics.BreakerTrips.Inc()
		logging.Warn("webhook breaker tripped",
			zap.String("subscription", key),
			zap.Time("until", st.trippedUntil))
	}
	return nil
}
