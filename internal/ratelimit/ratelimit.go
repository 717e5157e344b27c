// Package ratelimit budgets webhook deliveries per subscriber. The limiter
// answers one question: may this subscriber receive a POST right now, and if
// not, when is it worth asking again.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a per-key sliding-window budget.
type Limiter interface {
	// Allow consumes one slot for key. When denied, retryAfter is the wait
	// until a slot frees up.
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// window tracks counts for two adjacent fixed windows; interpolating between
// them approximates a true sliding window with O(1) memory per key.
type window struct {
	prevCount int
	currCount int
	currStart time.Time
	lastUsed  time.Time
}

// Local is the in-process limiter used when deliveries run single-node.
type Local struct {
	mu     sync.Mutex
	keys   map[string]*window
	rate   int
	period time.Duration
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocal creates a limiter allowing rate events per period and starts the
// idle-key cleanup.
func NewLocal(rate int, period time.Duration) *Local {
	if period <= 0 {
		period = time.Minute
	}
	l := &Local{
		keys:   make(map[string]*window),
		rate:   rate,
		period: period,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Local) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.keys[key]
	if !ok {
		w = &window{currStart: now.Truncate(l.period)}
		l.keys[key] = w
	}

	for now.Sub(w.currStart) >= l.period {
		w.prevCount = w.currCount
		w.currCount = 0
		w.currStart = w.currStart.Add(l.period)
	}

	elapsed := now.Sub(w.currStart)
	weight := 1.0 - float64(elapsed)/float64(l.period)
	estimate := float64(w.prevCount)*weight + float64(w.currCount)

	if estimate < float64(l.rate) {
		w.currCount++
		w.lastUsed = now
		return true, 0, nil
	}
	return false, w.currStart.Add(l.period).Sub(now), nil
}

// Close stops the cleanup goroutine.
func (l *Local) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Local) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := l.now().Add(-10 * l.period)
			l.mu.Lock()
			for key, w := range l.keys {
				if w.lastUsed.Before(cutoff) {
					delete(l.keys, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
