// Package ingest drains the durable queue into the priority store. Workers
// validate, upsert, then fan accepted states out to the live cache and the
// event publisher.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/events"
	"github.com/skytrack/skytrack/internal/livecache"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/store"
)

const (
	retryBase = 500 * time.Millisecond
	retryCap  = 30 * time.Second
	popWait   = time.Second
)

// Pool is the worker pool over one queue.
type Pool struct {
	queue      queue.Queue[model.QueueMessage]
	store      store.Store
	history    store.HistoryStore
	sink       store.HistorySink
	cache      *livecache.Cache
	publisher  *events.Publisher
	workers    int
	maxRetries int
	now        func() time.Time
}

// Option tunes optional fan-out targets.
type Option func(*Pool)

// WithHistory mirrors accepted states into the append-only history.
func WithHistory(h store.HistoryStore) Option { return func(p *Pool) { p.history = h } }

// WithHistorySink mirrors accepted states into the analytics sink.
func WithHistorySink(s store.HistorySink) Option { return func(p *Pool) { p.sink = s } }

// WithCache writes accepted states through to the live cache.
func WithCache(c *livecache.Cache) Option { return func(p *Pool) { p.cache = c } }

// WithPublisher emits an event per accepted state.
func WithPublisher(pub *events.Publisher) Option { return func(p *Pool) { p.publisher = pub } }

// NewPool wires a pool; Run starts it.
func NewPool(q queue.Queue[model.QueueMessage], st store.Store, workers, maxRetries int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	p := &Pool{
		queue:      q,
		store:      st,
		workers:    workers,
		maxRetries: maxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx ends; each worker drains its in-flight message before
// exiting.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.queue.Pop(ctx, popWait)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error("ingest: pop", zap.Error(err))
			continue
		}
		// Finish the popped message even mid-shutdown; losing it would
		// force a redundant redelivery.
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p.process(pctx, *msg)
		cancel()
	}
}

// process runs the pipeline for one message.
func (p *Pool) process(ctx context.Context, msg model.QueueMessage) {
	st := msg.State
	st.Normalize()
	if err := st.Validate(); err != nil {
		metrics.StatesRejected.WithLabelValues(string(msg.Source), "validation").Inc()
		logging.Debug("ingest: state rejected", zap.String("source", string(msg.Source)), zap.Error(err))
		return
	}
	if st.IngestionTimestamp == 0 {
		st.IngestionTimestamp = msg.IngestionTimestamp
	}

	applied, err := p.store.Upsert(ctx, st)
	if err != nil {
		p.retry(ctx, msg, err)
		return
	}
	if !applied {
		// Existing row was fresher or more trusted; not an error.
		logging.Debug("ingest: state superseded",
			zap.String("icao24", st.Icao24),
			zap.Int("priority", st.SourcePriority))
		return
	}
	metrics.StatesIngested.WithLabelValues(string(msg.Source)).Inc()

	if !msg.SkipHistory {
		if p.history != nil {
			if err := p.history.AppendHistory(ctx, st); err != nil {
				logging.Warn("ingest: history append", zap.String("icao24", st.Icao24), zap.Error(err))
			}
		}
		if p.sink != nil {
			if err := p.sink.Write(ctx, st); err != nil {
				logging.Warn("ingest: history sink", zap.String("icao24", st.Icao24), zap.Error(err))
			}
		}
	}
	if p.cache != nil {
		p.cache.Upsert(st)
	}
	if p.publisher != nil {
		evt, err := events.NewPositionUpdated(st, p.now())
		if err == nil {
			err = p.publisher.Publish(ctx, evt)
		}
		if err != nil {
			logging.Warn("ingest: publish", zap.String("icao24", st.Icao24), zap.Error(err))
		}
	}
}

// retry reschedules a transiently failed message with exponential backoff,
// dead-lettering once the budget is spent.
func (p *Pool) retry(ctx context.Context, msg model.QueueMessage, cause error) {
	if msg.Retries >= p.maxRetries {
		p.queue.DeadLetter(ctx, msg, cause.Error())
		return
	}
	delay := retryBase << uint(msg.Retries)
	if delay > retryCap {
		delay = retryCap
	}
	msg.Retries++
	metrics.IngestRetries.Inc()
	logging.Warn("ingest: transient store failure, rescheduling",
		zap.String("icao24", msg.State.Icao24),
		zap.Int("retries", msg.Retries),
		zap.Duration("delay", delay),
		zap.Error(cause))
	if err := p.queue.Reschedule(ctx, msg, p.now().Add(delay)); err != nil {
		logging.Error("ingest: reschedule", zap.Error(err))
	}
}
