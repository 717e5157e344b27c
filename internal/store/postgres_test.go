package store

import (
	"context"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/config"
)

// Integration tests against a local Postgres; skipped when unreachable.
func postgresAvailable(t *testing.T) *Postgres {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := NewPostgres(ctx, config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "skytrack_test",
		User:     "postgres",
		Password: "postgres",
	}, config.QueryConfig{StaleAfterSeconds: 300})
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := p.EnsureSchema(ctx); err != nil {
		p.Close()
		t.Skipf("Postgres schema: %v", err)
	}
	t.Cleanup(func() {
		c := context.Background()
		p.pool.Exec(c, `DELETE FROM aircraft_states WHERE icao24 LIKE 'f0f0%'`)
		p.pool.Exec(c, `DELETE FROM aircraft_state_history WHERE icao24 LIKE 'f0f0%'`)
		p.Close()
	})
	return p
}

func TestPostgresUpsertContract(t *testing.T) {
	p := postgresAvailable(t)
	ctx := context.Background()
	now := time.Now().Unix()

	// Insert a fresh commercial row.
	applied, err := p.Upsert(ctx, state("f0f001", 20, now))
	if err != nil || !applied {
		t.Fatalf("insert: applied=%v err=%v", applied, err)
	}

	// Older feeder packet wins on trust.
	if applied, _ = p.Upsert(ctx, state("f0f001", 10, now-10)); !applied {
		t.Error("feeder must replace commercial regardless of time")
	}
	// Older same-priority packet is rejected.
	if applied, _ = p.Upsert(ctx, state("f0f001", 10, now-20)); applied {
		t.Error("older same-priority update must be rejected")
	}
	// Free update within the grace window cannot flap over the feeder row.
	if applied, _ = p.Upsert(ctx, state("f0f001", 30, now)); applied {
		t.Error("free update must not replace a fresh feeder row")
	}
	// Free update past the grace window refreshes it.
	if applied, _ = p.Upsert(ctx, state("f0f001", 30, now+40)); !applied {
		t.Error("clearly newer free update must be accepted")
	}

	got, err := p.Get(ctx, "f0f001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourcePriority != 30 || got.LastContact != now+40 {
		t.Errorf("final row = priority %d, last_contact %d", got.SourcePriority, got.LastContact)
	}
}

func TestPostgresFindInBounds(t *testing.T) {
	p := postgresAvailable(t)
	ctx := context.Background()
	now := time.Now().Unix()

	inside := state("f0f002", 30, now)
	inside.Latitude, inside.Longitude = ptr(40.5), ptr(-74.5)
	outside := state("f0f003", 30, now)
	outside.Latitude, outside.Longitude = ptr(50.0), ptr(-74.5)
	p.Upsert(ctx, inside)
	p.Upsert(ctx, outside)

	got, err := p.FindInBounds(ctx, 40.0, -75.0, 41.0, -74.0, now-1800)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	found := false
	for _, st := range got {
		if st.Icao24 == "f0f003" {
			t.Error("out-of-bounds row returned")
		}
		if st.Icao24 == "f0f002" {
			found = true
		}
	}
	if !found {
		t.Error("in-bounds row missing")
	}
}

func TestPostgresHistoryBestEffort(t *testing.T) {
	p := postgresAvailable(t)
	ctx := context.Background()
	now := time.Now().Unix()

	st := state("f0f004", 30, now)
	if err := p.AppendHistory(ctx, st); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Same (icao24, created_at): swallowed, not an error.
	if err := p.AppendHistory(ctx, st); err != nil {
		t.Fatalf("duplicate append must be swallowed: %v", err)
	}

	rows, err := p.History(ctx, "f0f004",
		time.Unix(now-60, 0), time.Unix(now+60, 0))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("history rows = %d, want 1", len(rows))
	}
}

func ptr(v float64) *float64 { return &v }
