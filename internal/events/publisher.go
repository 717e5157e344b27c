package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/webhook"
)

// Sink persists event envelopes for auditing. Subscribers dedup redeliveries
// on the event id, so the id must be stored before the first POST attempt.
type Sink interface {
	Append(ctx context.Context, evt Event) error
}

// Publisher fans one event out to the bus and to every matching webhook
// subscription.
type Publisher struct {
	bus        Bus
	subs       webhook.SubscriptionStore
	deliveries webhook.DeliveryStore
	queue      queue.Queue[webhook.Delivery]
	sink       Sink
}

// NewPublisher wires the fan-out. sink may be nil when auditing is off;
// queue and subs may be nil when webhooks are disabled.
func NewPublisher(bus Bus, subs webhook.SubscriptionStore, deliveries webhook.DeliveryStore,
	q queue.Queue[webhook.Delivery], sink Sink) *Publisher {
	return &Publisher{bus: bus, subs: subs, deliveries: deliveries, queue: q, sink: sink}
}

// Publish runs the fan-out for one envelope. Pub/sub and audit failures are
// logged, not propagated: losing a broadcast must not fail ingestion.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	if p.sink != nil {
		if err := p.sink.Append(ctx, evt); err != nil {
			logging.Warn("events: persist", zap.String("event", evt.ID), zap.Error(err))
		}
	}

	if err := p.bus.Publish(ctx, body); err != nil {
		logging.Warn("events: pub/sub publish", zap.String("event", evt.ID), zap.Error(err))
	}

	if p.subs == nil || p.queue == nil {
		return nil
	}
	subs, err := p.subs.ActiveForEvent(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("events: subscription lookup: %w", err)
	}
	for _, sub := range subs {
		d := webhook.NewDelivery(evt.ID, sub.ID, evt.Type, body)
		if p.deliveries != nil {
			if err := p.deliveries.Record(ctx, &d); err != nil {
				logging.Warn("events: record pending delivery",
					zap.String("delivery", d.DeliveryID), zap.Error(err))
			}
		}
		err := p.queue.Enqueue(ctx, d, Essential(evt.Type))
		if errors.Is(err, queue.ErrBackpressure) {
			logging.Warn("events: webhook queue over high-water mark, dropping event",
				zap.String("event", evt.ID),
				zap.String("type", evt.Type),
				zap.String("subscription", sub.ID))
			continue
		}
		if err != nil {
			return fmt.Errorf("events: enqueue delivery: %w", err)
		}
	}
	return nil
}

// MemorySink collects envelopes; test helper.
type MemorySink struct {
	events []Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(ctx context.Context, evt Event) error {
	s.events = append(s.events, evt)
	return nil
}

// Events returns everything appended so far.
func (s *MemorySink) Events() []Event { return s.events }
