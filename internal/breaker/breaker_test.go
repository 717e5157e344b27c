package breaker

import (
	"context"
	"testing"
	"time"
)

func newTestLocal(threshold int, cooldown time.Duration) (*Local, *time.Time) {
	b := NewLocal(threshold, cooldown)
	clock := time.Unix(1700000000, 0)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestTripsAtThreshold(t *testing.T) {
	b, clock := newTestLocal(3, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, "sub-1")
		if until, _ := b.TrippedUntil(ctx, "sub-1"); !until.IsZero() {
			t.Fatalf("tripped after %d failures", i+1)
		}
	}

	b.RecordFailure(ctx, "sub-1")
	until, err := b.TrippedUntil(ctx, "sub-1")
	if err != nil {
		t.Fatalf("tripped until: %v", err)
	}
	if !until.Equal(clock.Add(5 * time.Minute)) {
		t.Errorf("trippedUntil = %v, want now+5m", until)
	}
}

func TestCooldownExpires(t *testing.T) {
	b, clock := newTestLocal(2, 5*time.Minute)
	ctx := context.Background()

	b.RecordFailure(ctx, "sub-1")
	b.RecordFailure(ctx, "sub-1")
	if until, _ := b.TrippedUntil(ctx, "sub-1"); until.IsZero() {
		t.Fatal("not tripped at threshold")
	}

	*clock = clock.Add(5*time.Minute + time.Second)
	if until, _ := b.TrippedUntil(ctx, "sub-1"); !until.IsZero() {
		t.Error("still tripped after cooldown")
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	b, _ := newTestLocal(3, 5*time.Minute)
	ctx := context.Background()

	b.RecordFailure(ctx, "sub-1")
	b.RecordFailure(ctx, "sub-1")
	b.RecordSuccess(ctx, "sub-1")

	// Two more failures stay below the threshold thanks to the reset.
	b.RecordFailure(ctx, "sub-1")
	b.RecordFailure(ctx, "sub-1")
	if until, _ := b.TrippedUntil(ctx, "sub-1"); !until.IsZero() {
		t.Error("tripped despite the success reset")
	}
}

func TestOldFailuresFallOutOfWindow(t *testing.T) {
	b, clock := newTestLocal(3, 5*time.Minute)
	ctx := context.Background()

	b.RecordFailure(ctx, "sub-1")
	b.RecordFailure(ctx, "sub-1")

	// Window passes; the old failures no longer count.
	*clock = clock.Add(6 * time.Minute)
	b.RecordFailure(ctx, "sub-1")
	if until, _ := b.TrippedUntil(ctx, "sub-1"); !until.IsZero() {
		t.Error("tripped on failures from a stale window")
	}
}

func TestSubscribersIndependent(t *testing.T) {
	b, _ := newTestLocal(1, 5*time.Minute)
	ctx := context.Background()

	b.RecordFailure(ctx, "sub-1")
	if until, _ := b.TrippedUntil(ctx, "sub-2"); !until.IsZero() {
		t.Error("tripping one subscriber affected another")
	}
}
