// Package governor tracks per-provider rate-limit state. It is process-local
// on purpose: the upstream networks enforce their quotas globally, so there
// is nothing to coordinate across instances.
package governor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
)

const (
	backoffBase = 300 * time.Second
	backoffCap  = 3600 * time.Second
)

type providerState struct {
	blockedUntil        time.Time
	consecutiveFailures int
}

// Governor gates outbound provider calls after 429s and repeated failures.
type Governor struct {
	mu        sync.Mutex
	providers map[string]*providerState
	now       func() time.Time
}

// New creates a Governor.
func New() *Governor {
	return &Governor{
		providers: make(map[string]*providerState),
		now:       time.Now,
	}
}

func (g *Governor) state(name string) *providerState {
	st, ok := g.providers[name]
	if !ok {
		st = &providerState{}
		g.providers[name] = st
	}
	return st
}

// IsBlocked reports whether calls to the provider should be skipped.
func (g *Governor) IsBlocked(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	blocked := g.now().Before(g.state(name).blockedUntil)
	if blocked {
		metrics.ProviderBlocked.WithLabelValues(name).Set(1)
	} else {
		metrics.ProviderBlocked.WithLabelValues(name).Set(0)
	}
	return blocked
}

// BlockedUntil returns the end of the current block window, or the zero time.
func (g *Governor) BlockedUntil(name string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state(name).blockedUntil
}

// RecordRateLimit handles a 429. With a Retry-After hint the block window is
// exactly the hint; without one it backs off exponentially per consecutive
// failure: min(base*2^(n-1), cap), base 300s, cap 1h.
func (g *Governor) RecordRateLimit(name string, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(name)
	st.consecutiveFailures++

	delay := retryAfter
	if delay <= 0 {
		delay = backoffDelay(st.consecutiveFailures)
	}
	st.blockedUntil = g.now().Add(delay)

	metrics.ProviderBlocked.WithLabelValues(name).Set(1)
	logging.Warn("provider rate limited",
		zap.String("provider", name),
		zap.Duration("blocked_for", delay),
		zap.Int("consecutive_failures", st.consecutiveFailures))
}

// RecordFailure counts a non-429 failure. Repeated failures do not block
// calls by themselves; the adapter's own retry bound handles those. The
// counter feeds the backoff used on the next unhinted 429.
func (g *Governor) RecordFailure(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state(name).consecutiveFailures++
}

// RecordSuccess clears failure state for the provider.
func (g *Governor) RecordSuccess(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(name)
	st.consecutiveFailures = 0
	st.blockedUntil = time.Time{}
	metrics.ProviderBlocked.WithLabelValues(name).Set(0)
}

func backoffDelay(failures int) time.Duration {
	delay := backoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}
