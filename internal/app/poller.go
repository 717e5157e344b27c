package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
)

const defaultPollInterval = 30 * time.Second

// poller drives one provider's bulk endpoint on a fixed interval and
// enqueues whatever comes back. Validation happens in the ingest workers,
// not here.
type poller struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) []model.AircraftState
	queue    queue.Queue[model.QueueMessage]
}

func newPoller(name string, interval time.Duration,
	fetch func(ctx context.Context) []model.AircraftState,
	q queue.Queue[model.QueueMessage]) *poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &poller{name: name, interval: interval, fetch: fetch, queue: q}
}

// run polls once immediately, then on every tick until ctx ends.
func (p *poller) run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.poll(ctx)
		}
	}
}

// poll fetches one sweep. Backpressure drops the rest of the sweep; the next
// tick re-observes everything anyway.
func (p *poller) poll(ctx context.Context) {
	start := time.Now()
	states := p.fetch(ctx)
	queued := 0
	for _, st := range states {
		err := p.queue.Enqueue(ctx, model.NewQueueMessage(st, false), false)
		if errors.Is(err, queue.ErrBackpressure) {
			logging.Warn("poller: queue over high-water mark, dropping sweep remainder",
				zap.String("provider", p.name),
				zap.Int("queued", queued),
				zap.Int("dropped", len(states)-queued))
			return
		}
		if err != nil {
			logging.Error("poller: enqueue", zap.String("provider", p.name), zap.Error(err))
			return
		}
		queued++
	}
	if queued > 0 {
		logging.Debug("poller: sweep complete",
			zap.String("provider", p.name),
			zap.Int("states", queued),
			zap.Duration("took", time.Since(start)))
	}
}
