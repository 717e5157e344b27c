package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestLocal(rate int, period time.Duration) (*Local, *time.Time) {
	l := NewLocal(rate, period)
	clock := time.Unix(1700000040, 0) // on a minute boundary
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLocalAllowsUpToRate(t *testing.T) {
	l, _ := newTestLocal(3, time.Minute)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, "sub-1")
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, _ := l.Allow(ctx, "sub-1")
	if allowed {
		t.Fatal("4th request in window allowed")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retryAfter = %v", retryAfter)
	}
}

func TestLocalKeysIndependent(t *testing.T) {
	l, _ := newTestLocal(1, time.Minute)
	defer l.Close()
	ctx := context.Background()

	l.Allow(ctx, "sub-1")
	if allowed, _, _ := l.Allow(ctx, "sub-2"); !allowed {
		t.Error("exhausting one key throttled another")
	}
}

func TestLocalWindowSlides(t *testing.T) {
	l, clock := newTestLocal(2, time.Minute)
	defer l.Close()
	ctx := context.Background()

	l.Allow(ctx, "sub-1")
	l.Allow(ctx, "sub-1")
	if allowed, _, _ := l.Allow(ctx, "sub-1"); allowed {
		t.Fatal("over budget allowed")
	}

	// Two full periods later the previous window's weight is gone: the
	// whole budget fits again.
	*clock = clock.Add(2 * time.Minute)
	for i := 0; i < 2; i++ {
		if allowed, _, _ := l.Allow(ctx, "sub-1"); !allowed {
			t.Errorf("request %d: budget not replenished after the gap", i)
		}
	}
}

func TestLocalInterpolationThrottlesEarlyNextWindow(t *testing.T) {
	l, clock := newTestLocal(10, time.Minute)
	defer l.Close()
	ctx := context.Background()

	// Fill the first window completely.
	for i := 0; i < 10; i++ {
		l.Allow(ctx, "sub-1")
	}

	// 6s into the next window ~90% of the previous count still weighs in:
	// one request fits under the estimate, a second does not.
	*clock = clock.Add(time.Minute + 6*time.Second)
	if allowed, _, _ := l.Allow(ctx, "sub-1"); !allowed {
		t.Fatal("single request after rollover should squeeze in")
	}
	if allowed, _, _ := l.Allow(ctx, "sub-1"); allowed {
		t.Error("full burst allowed immediately after window rollover")
	}
}
