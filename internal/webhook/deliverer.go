package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/breaker"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/ratelimit"
)

const (
	deliverTimeout = 10 * time.Second
	maxRetryDelay  = time.Hour
	popWait        = time.Second
)

// DelivererConfig holds the default delivery knobs. Subscriptions may
// override max_attempts and backoff per endpoint.
type DelivererConfig struct {
	Workers     int
	MaxAttempts int
	BackoffMs   int
}

// Deliverer drains the webhook queue and POSTs signed events to subscriber
// endpoints. One Deliverer runs a pool of workers; budget and breaker state
// may live in Redis so that multiple instances share them.
type Deliverer struct {
	queue      queue.Queue[Delivery]
	subs       SubscriptionStore
	deliveries DeliveryStore
	limiter    ratelimit.Limiter
	breaker    breaker.Breaker
	client     *http.Client
	cfg        DelivererConfig

	now  func() time.Time
	wg   sync.WaitGroup
	stop chan struct{}
}

// NewDeliverer wires the delivery pipeline. The HTTP client never follows
// redirects: a redirecting endpoint would break signature verification and
// can be abused to probe internal networks.
func NewDeliverer(q queue.Queue[Delivery], subs SubscriptionStore, deliveries DeliveryStore,
	limiter ratelimit.Limiter, brk breaker.Breaker, cfg DelivererConfig) *Deliverer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BackoffMs <= 0 {
		cfg.BackoffMs = 1000
	}
	return &Deliverer{
		queue:      q,
		subs:       subs,
		deliveries: deliveries,
		limiter:    limiter,
		breaker:    brk,
		client: &http.Client{
			Timeout: deliverTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:  cfg,
		now:  time.Now,
		stop: make(chan struct{}),
	}
}

// Run starts the worker pool and blocks until ctx ends. In-flight messages
// finish before workers exit.
func (d *Deliverer) Run(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	<-ctx.Done()
	close(d.stop)
	d.wg.Wait()
}

func (d *Deliverer) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		msg, err := d.queue.Pop(ctx, popWait)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error("webhook: pop", zap.Error(err))
			continue
		}
		// Shutdown must not lose the popped message; give it a fresh deadline.
		dctx, cancel := context.WithTimeout(context.Background(), deliverTimeout+5*time.Second)
		d.Deliver(dctx, *msg)
		cancel()
	}
}

// Deliver runs the full pipeline for one message: breaker gate, rate budget,
// signed POST, then classification of the response.
func (d *Deliverer) Deliver(ctx context.Context, msg Delivery) {
	sub, err := d.subs.Get(ctx, msg.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			d.finish(ctx, &msg, DeliveryFailed, 0, "subscription deleted")
			d.queue.DeadLetter(ctx, msg, "subscription deleted")
			metrics.WebhookDeliveries.WithLabelValues("orphaned").Inc()
			return
		}
		// Store hiccup; try again shortly.
		d.queue.Reschedule(ctx, msg, d.now().Add(5*time.Second))
		return
	}
	if sub.Status != StatusActive {
		d.finish(ctx, &msg, DeliveryFailed, 0, "subscription "+sub.Status)
		d.queue.DeadLetter(ctx, msg, "subscription "+sub.Status)
		metrics.WebhookDeliveries.WithLabelValues("inactive").Inc()
		return
	}

	if until, err := d.breaker.TrippedUntil(ctx, sub.ID); err == nil && until.After(d.now()) {
		msg.NextAttemptAt = until
		d.queue.Reschedule(ctx, msg, until)
		metrics.WebhookDeliveries.WithLabelValues("breaker_open").Inc()
		return
	}

	allowed, retryAfter, err := d.limiter.Allow(ctx, sub.ID)
	if err == nil && !allowed {
		at := d.now().Add(retryAfter)
		msg.NextAttemptAt = at
		d.queue.Reschedule(ctx, msg, at)
		metrics.WebhookDeliveries.WithLabelValues("rate_limited").Inc()
		return
	}

	msg.Attempt++
	status, err := d.post(ctx, sub, &msg)
	switch {
	case err == nil && status >= 200 && status < 300:
		d.finish(ctx, &msg, DeliveryDelivered, status, "")
		d.breaker.RecordSuccess(ctx, sub.ID)
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()

	case err != nil || status == http.StatusTooManyRequests || status >= 500:
		reason := fmt.Sprintf("status %d", status)
		if err != nil {
			reason = err.Error()
		}
		d.breaker.RecordFailure(ctx, sub.ID)
		d.retryOrBury(ctx, sub, &msg, status, reason)

	default:
		// Remaining 4xx (and redirects) mean the endpoint rejected the event
		// outright; retrying would only repeat the rejection. The breaker
		// counts retryable failures only, so a rejection leaves it alone.
		d.finish(ctx, &msg, DeliveryFailed, status, fmt.Sprintf("status %d", status))
		d.queue.DeadLetter(ctx, msg, fmt.Sprintf("permanent failure: status %d", status))
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
	}
}

// post sends one signed attempt. The signature covers the exact body bytes.
func (d *Deliverer) post(ctx context.Context, sub *Subscription, msg *Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(msg.Body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Id", msg.DeliveryID)
	req.Header.Set("X-Webhook-Event", msg.EventType)
	req.Header.Set("X-Webhook-Signature", Sign(sub.SigningSecret, msg.Body))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(d.now().Unix(), 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// retryOrBury reschedules a retryable failure with exponential backoff, or
// dead-letters it once the attempt budget is spent.
func (d *Deliverer) retryOrBury(ctx context.Context, sub *Subscription, msg *Delivery, status int, reason string) {
	maxAttempts := sub.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}
	if msg.Attempt >= maxAttempts {
		d.finish(ctx, msg, DeliveryFailed, status, reason)
		d.queue.DeadLetter(ctx, *msg, "max attempts exhausted: "+reason)
		metrics.WebhookDeliveries.WithLabelValues("exhausted").Inc()
		return
	}

	backoffMs := sub.BackoffMs
	if backoffMs <= 0 {
		backoffMs = d.cfg.BackoffMs
	}
	delay := retryDelay(backoffMs, msg.Attempt)
	at := d.now().Add(delay)

	msg.Status = DeliveryPending
	msg.ResponseStatus = status
	msg.LastError = reason
	msg.NextAttemptAt = at
	if err := d.deliveries.Record(ctx, msg); err != nil {
		logging.Warn("webhook: record delivery", zap.Error(err))
	}
	d.queue.Reschedule(ctx, *msg, at)
	metrics.WebhookDeliveries.WithLabelValues("retried").Inc()
	logging.Debug("webhook delivery retry scheduled",
		zap.String("delivery", msg.DeliveryID),
		zap.String("subscription", sub.ID),
		zap.Int("attempt", msg.Attempt),
		zap.Duration("delay", delay))
}

func (d *Deliverer) finish(ctx context.Context, msg *Delivery, status string, httpStatus int, lastErr string) {
	msg.Status = status
	msg.ResponseStatus = httpStatus
	msg.LastError = lastErr
	if err := d.deliveries.Record(ctx, msg); err != nil {
		logging.Warn("webhook: record delivery", zap.Error(err))
	}
}

// retryDelay is backoff_ms·2^(attempt-1) with ±20% jitter, capped at one
// hour. attempt is 1-based.
func retryDelay(backoffMs, attempt int) time.Duration {
	base := float64(backoffMs) * float64(int64(1)<<uint(attempt-1))
	jittered := base * (0.8 + 0.4*rand.Float64())
	delay := time.Duration(jittered) * time.Millisecond
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
