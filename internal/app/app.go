// Package app assembles the data plane from configuration: stores, queues,
// provider adapters, workers, the delivery pipeline and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skytrack/skytrack/internal/api"
	"github.com/skytrack/skytrack/internal/breaker"
	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/events"
	"github.com/skytrack/skytrack/internal/feeder"
	"github.com/skytrack/skytrack/internal/governor"
	"github.com/skytrack/skytrack/internal/ingest"
	"github.com/skytrack/skytrack/internal/livecache"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/planner"
	"github.com/skytrack/skytrack/internal/provider"
	"github.com/skytrack/skytrack/internal/provider/adsbx"
	"github.com/skytrack/skytrack/internal/provider/aeroapi"
	"github.com/skytrack/skytrack/internal/provider/opensky"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/ratelimit"
	"github.com/skytrack/skytrack/internal/routecache"
	"github.com/skytrack/skytrack/internal/scanner"
	"github.com/skytrack/skytrack/internal/store"
	"github.com/skytrack/skytrack/internal/webhook"
	"github.com/skytrack/skytrack/internal/ws"
)

const (
	defaultNATSSubject = "feeder.aircraft"
	depthSampleEvery   = 10 * time.Second
	shutdownGrace      = 30 * time.Second
)

// conusBounds is the sweep box the AeroAPI poller queries; its feed exists
// for the route enrichments, not coverage.
var conusBounds = provider.Bounds{LatMin: 24.5, LonMin: -125.0, LatMax: 49.5, LonMax: -66.9}

// App owns every running component. Build with New, drive with Run.
type App struct {
	cfg *config.Config

	redis      *redis.Client
	pg         *store.Postgres
	clickhouse *store.ClickHouse
	cache      *livecache.Cache
	routes     *routecache.Cache

	ingestQ  queue.Queue[model.QueueMessage]
	webhookQ queue.Queue[webhook.Delivery]

	pool      *ingest.Pool
	subs      webhook.SubscriptionStore
	publisher *events.Publisher
	deliverer *webhook.Deliverer
	hub       *ws.Hub
	scanner   *scanner.Scanner
	pollers   []*poller
	intake    *feeder.Intake
	limiter   ratelimit.Limiter

	httpServer *http.Server
}

// New wires the application. Every connection is established and every
// schema ensured before this returns, so a misconfigured deployment fails
// here instead of minutes in.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.Queue.QueueEnabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("app: parse redis url: %w", err)
		}
		opts.DialTimeout = cfg.Redis.DialTimeout
		opts.ReadTimeout = cfg.Redis.ReadTimeout
		opts.WriteTimeout = cfg.Redis.WriteTimeout
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("app: ping redis: %w", err)
		}
	}

	pg, err := store.NewPostgres(ctx, cfg.Postgres, cfg.Query)
	if err != nil {
		return nil, err
	}
	a.pg = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		a.close()
		return nil, err
	}

	if cfg.History.Enabled {
		ch, err := store.NewClickHouse(ctx, cfg.History)
		if err != nil {
			a.close()
			return nil, err
		}
		a.clickhouse = ch
	}

	if cfg.LiveState.LiveStateEnabled() {
		a.cache = livecache.New(cfg.LiveState)
	}
	a.routes = routecache.New(0, 0)

	if a.redis != nil {
		a.ingestQ = queue.NewRedis[model.QueueMessage](a.redis, queue.Keys{
			Ready:   cfg.Queue.ReadyKey,
			Delayed: cfg.Queue.DelayedKey,
			DLQ:     cfg.Queue.DLQKey,
		}, cfg.Queue.HighWaterMark)
	} else {
		a.ingestQ = queue.NewMemory[model.QueueMessage](cfg.Queue.HighWaterMark)
	}

	a.buildEvents(ctx)
	a.buildProviders(cfg)

	p := planner.New(a.cache, pg, a.routes, cfg.Query, cfg.LiveState)
	a.buildAPI(p)
	return a, nil
}

// buildEvents wires the publisher, the webhook delivery pipeline and the
// WebSocket hub. They share the bus and, when Redis is up, the budget and
// breaker state.
func (a *App) buildEvents(ctx context.Context) {
	cfg := a.cfg
	var bus events.Bus
	if a.redis != nil {
		bus = events.NewRedisBus(a.redis)
	} else {
		bus = events.NewMemoryBus()
	}
	a.hub = ws.NewHub(bus, cfg.Webhooks.Broadcast.FlushInterval, cfg.Webhooks.Broadcast.MaxBatch)

	if !cfg.Webhooks.WebhooksEnabled() {
		// Positions still reach the WebSocket hub; only webhook fan-out is
		// off.
		a.publisher = events.NewPublisher(bus, nil, nil, nil, nil)
		return
	}

	subs := webhook.NewPostgresSubscriptions(a.pg.Pool())
	a.subs = subs
	if err := subs.EnsureSchema(ctx); err != nil {
		logging.Error("app: webhook schema", zap.Error(err))
	}
	sink := events.NewPostgresSink(a.pg.Pool())
	if err := sink.EnsureSchema(ctx); err != nil {
		logging.Error("app: events schema", zap.Error(err))
	}

	if a.redis != nil {
		a.webhookQ = queue.NewRedis[webhook.Delivery](a.redis, queue.Keys{
			Ready:   cfg.Webhooks.ReadyKey,
			Delayed: cfg.Webhooks.DelayedKey,
			DLQ:     cfg.Webhooks.DLQKey,
		}, cfg.Webhooks.HighWaterMark)
	} else {
		a.webhookQ = queue.NewMemory[webhook.Delivery](cfg.Webhooks.HighWaterMark)
	}

	var limiter ratelimit.Limiter
	var brk breaker.Breaker
	cooldown := time.Duration(cfg.Webhooks.CircuitBreaker.ResetSeconds) * time.Second
	if a.redis != nil {
		limiter = ratelimit.NewRedis(a.redis, "webhook.budget",
			cfg.Webhooks.SubscriberRateLimitPerMinute, time.Minute)
		brk = breaker.NewRedis(a.redis, cfg.Webhooks.CircuitBreaker.FailureThreshold, cooldown)
	} else {
		local := ratelimit.NewLocal(cfg.Webhooks.SubscriberRateLimitPerMinute, time.Minute)
		limiter = local
		brk = breaker.NewLocal(cfg.Webhooks.CircuitBreaker.FailureThreshold, cooldown)
	}
	a.limiter = limiter

	a.publisher = events.NewPublisher(bus, subs, subs, a.webhookQ, sink)
	a.deliverer = webhook.NewDeliverer(a.webhookQ, subs, subs, limiter, brk, webhook.DelivererConfig{
		Workers:     cfg.Webhooks.Workers,
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		BackoffMs:   cfg.Webhooks.BackoffMs,
	})
}

// buildProviders wires the upstream adapters behind one governor: the free
// network bulk poll, the commercial point scanner and the AeroAPI route
// sweep.
func (a *App) buildProviders(cfg *config.Config) {
	gov := governor.New()

	if cfg.Providers.FreeNetwork.Enabled {
		ad := opensky.New(cfg.Providers.FreeNetwork, gov)
		a.pollers = append(a.pollers, newPoller(ad.Name(),
			cfg.Providers.FreeNetwork.PollInterval, ad.FetchAll, a.ingestQ))
	}
	if cfg.Providers.AeroAPI.Enabled {
		ad := aeroapi.New(cfg.Providers.AeroAPI, gov, a.routes)
		a.pollers = append(a.pollers, newPoller(ad.Name(),
			cfg.Providers.AeroAPI.PollInterval,
			func(ctx context.Context) []model.AircraftState {
				return ad.FetchBounds(ctx, conusBounds)
			}, a.ingestQ))
	}
	if cfg.Providers.CommercialNetwork.Enabled && cfg.Scanner.Enabled {
		ad := adsbx.New(cfg.Providers.CommercialNetwork, gov)
		a.scanner = scanner.New(ad, ad.Name(), gov, a.ingestQ,
			cfg.Scanner.RequestsPerSec, cfg.Scanner.RadiusNM)
	}

	opts := []ingest.Option{ingest.WithHistory(a.pg), ingest.WithPublisher(a.publisher)}
	if a.cache != nil {
		opts = append(opts, ingest.WithCache(a.cache))
	}
	if a.clickhouse != nil {
		opts = append(opts, ingest.WithHistorySink(a.clickhouse))
	}
	a.pool = ingest.NewPool(a.ingestQ, a.pg, cfg.Ingestion.Workers, cfg.Ingestion.MaxRetries, opts...)
}

func (a *App) buildAPI(p *planner.Planner) {
	cfg := a.cfg
	srv := api.New(p, a.pg, a.ingestQ, a.subs, a.hub, cfg)
	a.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Run starts every component and blocks until a signal or a fatal component
// error. Shutdown order: stop intake and pollers, drain workers, close
// connections.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cache != nil {
		a.cache.Start()
		a.warmCache(ctx)
	}

	if a.cfg.NATS.URL != "" {
		subject := a.cfg.NATS.Subject
		if subject == "" {
			subject = defaultNATSSubject
		}
		intake, err := feeder.NewIntake(a.cfg.NATS.URL, subject, a.ingestQ)
		if err != nil {
			a.close()
			return err
		}
		if err := intake.Start(); err != nil {
			a.close()
			return err
		}
		a.intake = intake
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.pool.Run(ctx)
		return nil
	})
	g.Go(func() error { return a.hub.Run(ctx) })
	if a.deliverer != nil {
		g.Go(func() error {
			a.deliverer.Run(ctx)
			return nil
		})
	}
	if a.scanner != nil {
		g.Go(func() error { return a.scanner.Run(ctx) })
	}
	for _, p := range a.pollers {
		p := p
		g.Go(func() error { return p.run(ctx) })
	}
	g.Go(func() error {
		a.reportDepths(ctx)
		return nil
	})

	g.Go(func() error {
		logging.Info("http server listening", zap.String("address", a.httpServer.Addr))
		err := a.httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpServer.Shutdown(sctx)
	})

	err := g.Wait()
	a.close()
	if err != nil && err != context.Canceled {
		return err
	}
	logging.Info("shutdown complete")
	return nil
}

// warmCache preloads the hot cache from the store's recent window so the
// first queries after a restart do not all fall through to Postgres.
func (a *App) warmCache(ctx context.Context) {
	threshold := a.cfg.Query.RecentContactThresholdSeconds
	if threshold <= 0 {
		threshold = 1800
	}
	since := time.Now().Unix() - int64(threshold)
	states, err := a.pg.Recent(ctx, since, a.cfg.LiveState.MaxEntries)
	if err != nil {
		logging.Warn("app: cache warm-up", zap.Error(err))
		return
	}
	for _, st := range states {
		a.cache.Upsert(st)
	}
	logging.Info("cache warmed", zap.Int("states", len(states)))
}

// reportDepths samples queue depths into the gauges.
func (a *App) reportDepths(ctx context.Context) {
	t := time.NewTicker(depthSampleEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if d, err := a.ingestQ.Depth(ctx); err == nil {
				metrics.QueueDepth.WithLabelValues("ingest").Set(float64(d))
			}
			if a.webhookQ != nil {
				if d, err := a.webhookQ.Depth(ctx); err == nil {
					metrics.QueueDepth.WithLabelValues("webhook").Set(float64(d))
				}
			}
		}
	}
}

// close releases every connection. Safe on a partially built App.
func (a *App) close() {
	if a.intake != nil {
		a.intake.Close()
	}
	if a.cache != nil {
		a.cache.Stop()
	}
	if a.ingestQ != nil {
		a.ingestQ.Close()
	}
	if a.webhookQ != nil {
		a.webhookQ.Close()
	}
	if l, ok := a.limiter.(*ratelimit.Local); ok {
		l.Close()
	}
	if a.clickhouse != nil {
		a.clickhouse.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
