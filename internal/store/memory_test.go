package store

import (
	"context"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/model"
)

func state(icao string, priority int, lastContact int64) model.AircraftState {
	return model.AircraftState{
		Icao24:         icao,
		Latitude:       model.Float(40.0),
		Longitude:      model.Float(-74.0),
		LastContact:    lastContact,
		SourcePriority: priority,
		DataSource:     model.SourceFreeNetwork,
	}
}

func newTestMemory(now time.Time) *Memory {
	m := NewMemory()
	m.now = func() time.Time { return now }
	return m
}

func TestUpsertInsertsNewRow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)

	applied, err := m.Upsert(context.Background(), state("abc123", 30, now.Unix()))
	if err != nil || !applied {
		t.Fatalf("insert: applied=%v err=%v", applied, err)
	}
	got, err := m.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourcePriority != 30 {
		t.Errorf("priority = %d", got.SourcePriority)
	}
}

func TestUpsertHigherTrustWinsEvenWhenOlder(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	m.Upsert(ctx, state("abc123", 20, now.Unix()))

	// Feeder packet 10s older than the commercial row still wins.
	applied, _ := m.Upsert(ctx, state("abc123", 10, now.Unix()-10))
	if !applied {
		t.Fatal("lower priority number must replace regardless of time")
	}
	got, _ := m.Get(ctx, "abc123")
	if got.SourcePriority != 10 {
		t.Errorf("priority = %d, want 10", got.SourcePriority)
	}
}

func TestUpsertEqualTrustTimeMonotonic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	m.Upsert(ctx, state("abc123", 30, now.Unix()))

	if applied, _ := m.Upsert(ctx, state("abc123", 30, now.Unix()-5)); applied {
		t.Error("older same-priority update must be rejected")
	}
	if applied, _ := m.Upsert(ctx, state("abc123", 30, now.Unix())); !applied {
		t.Error("equal last_contact must be accepted")
	}
	if applied, _ := m.Upsert(ctx, state("abc123", 30, now.Unix()+5)); !applied {
		t.Error("newer same-priority update must be accepted")
	}
}

func TestUpsertLowerTrustNeedsStaleOrClearlyNewer(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	// Fresh commercial row.
	m.Upsert(ctx, state("abc123", 20, now.Unix()))

	// Free update only 10s newer: inside the 30s grace window, rejected.
	if applied, _ := m.Upsert(ctx, state("abc123", 30, now.Unix()+10)); applied {
		t.Error("free update must not flap over a fresh commercial row")
	}
	// Free update 31s newer: past the grace window, accepted.
	if applied, _ := m.Upsert(ctx, state("abc123", 30, now.Unix()+31)); !applied {
		t.Error("clearly newer free update must refresh the row")
	}
}

func TestUpsertLowerTrustRefreshesStaleRow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	// Commercial row heard 6 minutes ago: past the 300s staleness window.
	m.Upsert(ctx, state("abc123", 20, now.Unix()-360))

	if applied, _ := m.Upsert(ctx, state("abc123", 30, now.Unix()-350)); !applied {
		t.Error("free update must refresh a stale higher-trust row")
	}
	got, _ := m.Get(ctx, "abc123")
	if got.SourcePriority != 30 {
		t.Errorf("priority = %d, want 30", got.SourcePriority)
	}
}

func TestUpsertStickyIdentityFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	first := state("abc123", 30, now.Unix())
	first.Registration = "N37281"
	first.AircraftType = "B738"
	m.Upsert(ctx, first)

	second := state("abc123", 30, now.Unix()+10)
	m.Upsert(ctx, second)

	got, _ := m.Get(ctx, "abc123")
	if got.Registration != "N37281" || got.AircraftType != "B738" {
		t.Errorf("identity lost: %q/%q", got.Registration, got.AircraftType)
	}
}

func TestFindInBounds(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	inside := state("aaaaaa", 30, now.Unix())
	inside.Latitude, inside.Longitude = model.Float(40.5), model.Float(-74.5)
	outside := state("bbbbbb", 30, now.Unix())
	outside.Latitude, outside.Longitude = model.Float(50.0), model.Float(-74.5)
	old := state("cccccc", 30, now.Unix()-3600)
	old.Latitude, old.Longitude = model.Float(40.6), model.Float(-74.4)

	m.Upsert(ctx, inside)
	m.Upsert(ctx, outside)
	m.Upsert(ctx, old)

	got, err := m.FindInBounds(ctx, 40.0, -75.0, 41.0, -74.0, now.Unix()-1800)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].Icao24 != "aaaaaa" {
		t.Errorf("got %d results: %+v", len(got), got)
	}
}

func TestGetByCallsignPicksNewest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	a := state("aaaaaa", 30, now.Unix()-100)
	a.Callsign = "UAL123"
	b := state("bbbbbb", 30, now.Unix())
	b.Callsign = "UAL123"
	m.Upsert(ctx, a)
	m.Upsert(ctx, b)

	got, err := m.GetByCallsign(ctx, "UAL123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Icao24 != "bbbbbb" {
		t.Errorf("icao24 = %s, want the newer airframe", got.Icao24)
	}
}

func TestHistoryAppendAndRange(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestMemory(now)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		m.AppendHistory(ctx, state("abc123", 30, now.Unix()+i*60))
	}
	// Duplicate last_contact is silently skipped.
	m.AppendHistory(ctx, state("abc123", 30, now.Unix()))

	got, err := m.History(ctx, "abc123", now, now.Add(90*time.Second))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history rows = %d, want 2", len(got))
	}
	if got[0].LastContact > got[1].LastContact {
		t.Error("history not in ascending order")
	}
}
