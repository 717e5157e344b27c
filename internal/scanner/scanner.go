// Package scanner keeps the continental U.S. picture warm by rotating
// through a fixed set of anchor points against the commercial network's
// radius endpoint, one request per second.
package scanner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skytrack/skytrack/internal/governor"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/provider"
	"github.com/skytrack/skytrack/internal/queue"
)

// Anchor is one scan center.
type Anchor struct {
	Name string
	Lat  float64
	Lon  float64
}

// conusAnchors covers the continental U.S. with overlapping 250 NM circles.
// Order matters only for cycle accounting; coverage does not depend on it.
var conusAnchors = []Anchor{
	{"seattle", 47.4, -122.3},
	{"portland", 45.5, -122.7},
	{"boise", 43.6, -116.2},
	{"billings", 45.8, -108.5},
	{"fargo", 46.9, -96.8},
	{"minneapolis", 44.9, -93.3},
	{"sacramento", 38.6, -121.5},
	{"salt-lake", 40.8, -111.9},
	{"denver", 39.7, -104.9},
	{"kansas-city", 39.1, -94.6},
	{"chicago", 41.9, -87.6},
	{"detroit", 42.3, -83.0},
	{"buffalo", 42.9, -78.9},
	{"boston", 42.4, -71.0},
	{"new-york", 40.7, -74.0},
	{"los-angeles", 34.1, -118.2},
	{"las-vegas", 36.2, -115.1},
	{"albuquerque", 35.1, -106.6},
	{"oklahoma-city", 35.5, -97.5},
	{"memphis", 35.1, -90.0},
	{"nashville", 36.2, -86.8},
	{"charlotte", 35.2, -80.8},
	{"washington", 38.9, -77.0},
	{"phoenix", 33.4, -112.1},
	{"el-paso", 31.8, -106.5},
	{"dallas", 32.8, -96.8},
	{"houston", 29.8, -95.4},
	{"new-orleans", 30.0, -90.1},
	{"atlanta", 33.7, -84.4},
	{"jacksonville", 30.3, -81.7},
	{"miami", 25.8, -80.2},
	{"san-antonio", 29.4, -98.5},
}

const backpressurePause = 5 * time.Second

// Scanner drives the rotation. One instance per process is plenty; the
// limiter keeps the provider's 1 Hz budget regardless of anchor count.
type Scanner struct {
	fetcher  provider.PointFetcher
	name     string
	gov      *governor.Governor
	queue    queue.Queue[model.QueueMessage]
	limiter  *rate.Limiter
	anchors  []Anchor
	radiusNM float64

	next       int
	cycleStart time.Time
	now        func() time.Time
}

// New creates a Scanner over the standard CONUS anchors.
func New(fetcher provider.PointFetcher, name string, gov *governor.Governor,
	q queue.Queue[model.QueueMessage], requestsPerSec, radiusNM float64) *Scanner {
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}
	if radiusNM <= 0 {
		radiusNM = 250
	}
	return &Scanner{
		fetcher:  fetcher,
		name:     name,
		gov:      gov,
		queue:    q,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		anchors:  conusAnchors,
		radiusNM: radiusNM,
		now:      time.Now,
	}
}

// Run rotates until ctx ends.
func (s *Scanner) Run(ctx context.Context) error {
	s.cycleStart = s.now()
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if s.gov != nil && s.gov.IsBlocked(s.name) {
			// The provider shut us out; idle until the window clears
			// instead of burning the rotation.
			if !sleepCtx(ctx, time.Until(s.gov.BlockedUntil(s.name))) {
				return ctx.Err()
			}
			continue
		}
		if paused := s.step(ctx); paused {
			if !sleepCtx(ctx, backpressurePause) {
				return ctx.Err()
			}
		}
	}
}

// step scans the next anchor. It reports true when the queue pushed back and
// the rotation should pause.
func (s *Scanner) step(ctx context.Context) (paused bool) {
	anchor := s.anchors[s.next]
	s.next = (s.next + 1) % len(s.anchors)

	states := s.fetcher.FetchPoint(ctx, anchor.Lat, anchor.Lon, s.radiusNM)
	enqueued := 0
	for _, st := range states {
		// Scan snapshots repeat at 1 Hz; history would just fill disk.
		msg := model.NewQueueMessage(st, true)
		err := s.queue.Enqueue(ctx, msg, false)
		if errors.Is(err, queue.ErrBackpressure) {
			logging.Warn("scanner: queue over high-water mark, pausing rotation",
				zap.String("anchor", anchor.Name),
				zap.Int("enqueued", enqueued),
				zap.Int("dropped", len(states)-enqueued))
			return true
		}
		if err != nil {
			logging.Error("scanner: enqueue", zap.String("anchor", anchor.Name), zap.Error(err))
			return true
		}
		enqueued++
	}
	logging.Debug("scanner: anchor scanned",
		zap.String("anchor", anchor.Name),
		zap.Int("states", enqueued))

	if s.next == 0 {
		now := s.now()
		logging.Info("scanner: cycle complete",
			zap.Int("anchors", len(s.anchors)),
			zap.Duration("took", now.Sub(s.cycleStart)))
		s.cycleStart = now
	}
	return false
}

// sleepCtx waits for d or until ctx ends; reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
