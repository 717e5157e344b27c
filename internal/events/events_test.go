package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/webhook"
)

func testState(icao string) model.AircraftState {
	st := model.AircraftState{
		Icao24:      icao,
		Latitude:    model.Float(40.0),
		Longitude:   model.Float(-74.0),
		LastContact: time.Now().Unix(),
		DataSource:  model.SourceFeeder,
	}
	st.Normalize()
	return st
}

func TestEnvelopeShape(t *testing.T) {
	occurred := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	evt, err := NewPositionUpdated(testState("a1b2c3"), occurred)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if evt.Type != "aircraft.position.updated" || evt.Version != "v1" {
		t.Errorf("type/version = %s/%s", evt.Type, evt.Version)
	}
	if evt.ID == "" {
		t.Error("missing event id")
	}
	if !evt.OccurredAt.Equal(occurred) {
		t.Errorf("occurred_at = %v", evt.OccurredAt)
	}

	var payload model.AircraftState
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Icao24 != "a1b2c3" || payload.SourcePriority != 10 {
		t.Errorf("payload = %s/%d", payload.Icao24, payload.SourcePriority)
	}
}

func TestPublishFansOut(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	ch, cancel, _ := bus.Subscribe(ctx)
	defer cancel()

	subs := webhook.NewMemorySubscriptions()
	for _, id := range []string{"sub-1", "sub-2"} {
		subs.Create(ctx, &webhook.Subscription{
			ID:            id,
			CallbackURL:   "https://example.com/hook",
			EventTypes:    []string{"aircraft.position.updated"},
			SigningSecret: "0123456789abcdef0123456789abcdef",
			Status:        webhook.StatusActive,
		})
	}
	// Paused subscriptions receive nothing.
	subs.Create(ctx, &webhook.Subscription{
		ID: "sub-paused", CallbackURL: "https://example.com/hook",
		EventTypes: []string{"*"}, SigningSecret: "0123456789abcdef0123456789abcdef",
		Status: webhook.StatusPaused,
	})

	q := queue.NewMemory[webhook.Delivery](0)
	defer q.Close()
	deliveries := webhook.NewMemoryDeliveries()
	sink := NewMemorySink()
	p := NewPublisher(bus, subs, deliveries, q, sink)

	evt, _ := NewPositionUpdated(testState("a1b2c3"), time.Now())
	if err := p.Publish(ctx, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case raw := <-ch:
		var got Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("bus payload: %v", err)
		}
		if got.ID != evt.ID {
			t.Errorf("bus event id = %s, want %s", got.ID, evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing on the bus")
	}

	depth, _ := q.Depth(ctx)
	if depth != 2 {
		t.Errorf("queued deliveries = %d, want 2", depth)
	}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		d, err := q.Pop(ctx, time.Second)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if d.EventID != evt.ID || d.Status != webhook.DeliveryPending {
			t.Errorf("delivery %+v", d)
		}
		seen[d.SubscriptionID] = true
	}
	if !seen["sub-1"] || !seen["sub-2"] || seen["sub-paused"] {
		t.Errorf("fan-out targets = %v", seen)
	}

	if len(sink.Events()) != 1 || sink.Events()[0].ID != evt.ID {
		t.Errorf("audit sink = %+v", sink.Events())
	}
	if len(deliveries.Records()) != 2 {
		t.Errorf("pending records = %d, want 2", len(deliveries.Records()))
	}
}

func TestPublishEssentialBypassesBackpressure(t *testing.T) {
	ctx := context.Background()
	subs := webhook.NewMemorySubscriptions()
	subs.Create(ctx, &webhook.Subscription{
		ID: "sub-1", CallbackURL: "https://example.com/hook",
		EventTypes: []string{"*"}, SigningSecret: "0123456789abcdef0123456789abcdef",
		Status: webhook.StatusActive,
	})

	q := queue.NewMemory[webhook.Delivery](1)
	defer q.Close()
	p := NewPublisher(NewMemoryBus(), subs, nil, q, nil)

	// Position updates are essential and must land even over the mark.
	for i := 0; i < 3; i++ {
		evt, _ := NewPositionUpdated(testState("a1b2c3"), time.Now())
		if err := p.Publish(ctx, evt); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	depth, _ := q.Depth(ctx)
	if depth != 3 {
		t.Errorf("depth = %d, want 3", depth)
	}
}
