package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/events"
	"github.com/skytrack/skytrack/internal/livecache"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/store"
)

func testMsg(icao string, lastContact int64) model.QueueMessage {
	st := model.AircraftState{
		Icao24:      icao,
		Latitude:    model.Float(40.0),
		Longitude:   model.Float(-74.0),
		LastContact: lastContact,
		DataSource:  model.SourceFreeNetwork,
	}
	st.Normalize()
	return model.NewQueueMessage(st, false)
}

type flakyStore struct {
	*store.Memory
	failures int
}

func (f *flakyStore) Upsert(ctx context.Context, st model.AircraftState) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection reset")
	}
	return f.Memory.Upsert(ctx, st)
}

func TestProcessAcceptedFansOut(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	mem := store.NewMemory()
	cache := livecache.New(config.LiveStateConfig{TTLSeconds: 120, MaxEntries: 100, CleanupIntervalSeconds: 30})
	bus := events.NewMemoryBus()
	ch, cancel, _ := bus.Subscribe(ctx)
	defer cancel()

	p := NewPool(q, mem, 1, 3,
		WithHistory(mem),
		WithCache(cache),
		WithPublisher(events.NewPublisher(bus, nil, nil, nil, nil)))

	p.process(ctx, testMsg("a1b2c3", 1700000000))

	if _, err := mem.Get(ctx, "a1b2c3"); err != nil {
		t.Fatalf("store get: %v", err)
	}
	if _, ok := cache.Get("a1b2c3"); !ok {
		t.Error("cache missed write-through")
	}
	hist, _ := mem.History(ctx, "a1b2c3", time.Unix(0, 0), time.Now().Add(time.Hour))
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
	select {
	case raw := <-ch:
		var evt events.Event
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Type != events.TypePositionUpdated {
			t.Errorf("event = %s err = %v", evt.Type, err)
		}
	case <-time.After(time.Second):
		t.Error("no event published")
	}
}

func TestProcessSkipHistory(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	mem := store.NewMemory()
	p := NewPool(q, mem, 1, 3, WithHistory(mem))

	msg := testMsg("a1b2c3", 1700000000)
	msg.SkipHistory = true
	p.process(ctx, msg)

	if _, err := mem.Get(ctx, "a1b2c3"); err != nil {
		t.Fatalf("store get: %v", err)
	}
	hist, _ := mem.History(ctx, "a1b2c3", time.Unix(0, 0), time.Now().Add(time.Hour))
	if len(hist) != 0 {
		t.Errorf("history rows = %d, want 0 with skip_history", len(hist))
	}
}

func TestProcessRejectsMalformedIcao(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	mem := store.NewMemory()
	p := NewPool(q, mem, 1, 3)

	msg := testMsg("not-hex", 1700000000)
	p.process(ctx, msg)
	if mem.Len() != 0 {
		t.Error("malformed icao24 reached the store")
	}
}

func TestProcessSupersededIsNotHistorized(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	mem := store.NewMemory()
	p := NewPool(q, mem, 1, 3, WithHistory(mem))

	newer := testMsg("a1b2c3", 1700000100)
	p.process(ctx, newer)
	older := testMsg("a1b2c3", 1700000000)
	p.process(ctx, older)

	got, _ := mem.Get(ctx, "a1b2c3")
	if got.LastContact != 1700000100 {
		t.Errorf("last_contact = %d, want newer kept", got.LastContact)
	}
	hist, _ := mem.History(ctx, "a1b2c3", time.Unix(0, 0), time.Now().Add(time.Hour))
	if len(hist) != 1 {
		t.Errorf("history rows = %d, want 1", len(hist))
	}
}

func TestRetryBackoffThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	flaky := &flakyStore{Memory: store.NewMemory(), failures: 100}
	p := NewPool(q, flaky, 1, 3)
	start := time.Now()
	p.now = func() time.Time { return start }

	msg := testMsg("a1b2c3", 1700000000)
	p.process(ctx, msg)

	// First failure schedules a 500 ms retry.
	if _, err := q.Pop(ctx, 10*time.Millisecond); err != queue.ErrEmpty {
		t.Fatalf("retry visible early: %v", err)
	}
	retried, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop retry: %v", err)
	}
	if retried.Retries != 1 {
		t.Errorf("retries = %d, want 1", retried.Retries)
	}

	// Exhaust the budget: retries 1, 2, 3 then dead-letter.
	m := *retried
	for i := 0; i < 2; i++ {
		p.retry(ctx, m, errors.New("deadlock"))
		m.Retries++
	}
	p.retry(ctx, m, errors.New("deadlock"))
	if dead := q.DeadLetters(); len(dead) != 1 {
		t.Errorf("dead letters = %d, want 1", len(dead))
	}
}

func TestRecoveryAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	flaky := &flakyStore{Memory: store.NewMemory(), failures: 1}
	p := NewPool(q, flaky, 1, 3)

	p.process(ctx, testMsg("a1b2c3", 1700000000))
	retried, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop retry: %v", err)
	}
	p.process(ctx, *retried)
	if _, err := flaky.Get(ctx, "a1b2c3"); err != nil {
		t.Errorf("state not stored after recovery: %v", err)
	}
}
