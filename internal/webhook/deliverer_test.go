package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/breaker"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/ratelimit"
)

// recordingQueue captures lane transitions without a real broker.
type recordingQueue struct {
	rescheduled []Delivery
	rescheduleAt []time.Time
	dead        []Delivery
	deadReasons []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, msg Delivery, essential bool) error {
	return nil
}
func (q *recordingQueue) Pop(ctx context.Context, wait time.Duration) (*Delivery, error) {
	return nil, queue.ErrEmpty
}
func (q *recordingQueue) Reschedule(ctx context.Context, msg Delivery, at time.Time) error {
	q.rescheduled = append(q.rescheduled, msg)
	q.rescheduleAt = append(q.rescheduleAt, at)
	return nil
}
func (q *recordingQueue) DeadLetter(ctx context.Context, msg Delivery, reason string) error {
	q.dead = append(q.dead, msg)
	q.deadReasons = append(q.deadReasons, reason)
	return nil
}
func (q *recordingQueue) Depth(ctx context.Context) (int64, error) { return 0, nil }
func (q *recordingQueue) Close() error                             { return nil }

type denyLimiter struct{ retryAfter time.Duration }

func (l denyLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	return false, l.retryAfter, nil
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testDeliverer(t *testing.T, url string, q queue.Queue[Delivery]) (*Deliverer, *MemoryDeliveries, *MemorySubscriptions) {
	t.Helper()
	subs := NewMemorySubscriptions()
	sub := &Subscription{
		ID:            "sub-1",
		SubscriberID:  "tenant-1",
		CallbackURL:   url,
		EventTypes:    []string{"aircraft.position.updated"},
		SigningSecret: testSecret,
		Status:        StatusActive,
	}
	if err := subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	deliveries := NewMemoryDeliveries()
	d := NewDeliverer(q, subs, deliveries,
		ratelimit.NewLocal(60, time.Minute),
		breaker.NewLocal(5, 300*time.Second),
		DelivererConfig{MaxAttempts: 8, BackoffMs: 1000})
	return d, deliveries, subs
}

func TestDeliverSuccess(t *testing.T) {
	var gotSig, gotEvent, gotID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotID = r.Header.Get("X-Webhook-Id")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	d, deliveries, _ := testDeliverer(t, srv.URL, q)

	body := []byte(`{"id":"evt-1","type":"aircraft.position.updated"}`)
	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", body)
	d.Deliver(context.Background(), msg)

	recs := deliveries.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Status != DeliveryDelivered || recs[0].Attempt != 1 {
		t.Errorf("status=%s attempt=%d", recs[0].Status, recs[0].Attempt)
	}
	if gotEvent != "aircraft.position.updated" || gotID != msg.DeliveryID {
		t.Errorf("headers: event=%s id=%s", gotEvent, gotID)
	}
	if !VerifySignature(testSecret, gotBody, gotSig) {
		t.Errorf("signature %q does not verify over received body", gotSig)
	}
	if len(q.dead) != 0 || len(q.rescheduled) != 0 {
		t.Errorf("unexpected lane activity: dead=%d rescheduled=%d", len(q.dead), len(q.rescheduled))
	}
}

func TestDeliverRetryableBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	d, _, _ := testDeliverer(t, srv.URL, q)
	start := time.Now()
	d.now = func() time.Time { return start }

	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)

	if len(q.rescheduled) != 1 {
		t.Fatalf("rescheduled = %d, want 1", len(q.rescheduled))
	}
	if got := q.rescheduled[0].Attempt; got != 1 {
		t.Errorf("attempt = %d, want 1", got)
	}
	// First retry delay is backoff_ms with ±20% jitter.
	delay := q.rescheduleAt[0].Sub(start)
	if delay < 800*time.Millisecond || delay > 1200*time.Millisecond {
		t.Errorf("first retry delay = %v, want within 1s ±20%%", delay)
	}

	// Second failure doubles the base.
	d.Deliver(context.Background(), q.rescheduled[0])
	delay = q.rescheduleAt[1].Sub(start)
	if delay < 1600*time.Millisecond || delay > 2400*time.Millisecond {
		t.Errorf("second retry delay = %v, want within 2s ±20%%", delay)
	}
}

func TestDeliverSucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	d, deliveries, _ := testDeliverer(t, srv.URL, q)

	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)
	for len(q.rescheduled) > 0 {
		next := q.rescheduled[len(q.rescheduled)-1]
		q.rescheduled = q.rescheduled[:len(q.rescheduled)-1]
		d.Deliver(context.Background(), next)
	}

	recs := deliveries.Records()
	last := recs[len(recs)-1]
	if last.Status != DeliveryDelivered || last.Attempt != 3 {
		t.Errorf("final status=%s attempt=%d, want delivered/3", last.Status, last.Attempt)
	}
	if len(q.dead) != 0 {
		t.Errorf("dead-lettered %d, want 0", len(q.dead))
	}
}

func TestDeliverPermanent4xx(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	d, deliveries, _ := testDeliverer(t, srv.URL, q)

	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)

	if len(q.dead) != 1 || len(q.rescheduled) != 0 {
		t.Fatalf("dead=%d rescheduled=%d, want 1/0", len(q.dead), len(q.rescheduled))
	}
	if calls.Load() != 1 {
		t.Errorf("POSTs = %d, want 1", calls.Load())
	}
	recs := deliveries.Records()
	if recs[len(recs)-1].Status != DeliveryFailed {
		t.Errorf("status = %s, want failed", recs[len(recs)-1].Status)
	}
}

func TestDeliverRejectionDoesNotFeedBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	subs := NewMemorySubscriptions()
	sub := &Subscription{
		ID:            "sub-1",
		SubscriberID:  "tenant-1",
		CallbackURL:   srv.URL,
		EventTypes:    []string{"aircraft.position.updated"},
		SigningSecret: testSecret,
		Status:        StatusActive,
	}
	if err := subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	// Threshold 1: a single counted failure would trip.
	brk := breaker.NewLocal(1, 300*time.Second)
	q := &recordingQueue{}
	d := NewDeliverer(q, subs, NewMemoryDeliveries(),
		ratelimit.NewLocal(60, time.Minute), brk,
		DelivererConfig{MaxAttempts: 8, BackoffMs: 1000})

	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)

	if len(q.dead) != 1 {
		t.Fatalf("dead = %d, want 1", len(q.dead))
	}
	until, err := brk.TrippedUntil(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("breaker: %v", err)
	}
	if !until.IsZero() {
		t.Errorf("breaker tripped until %v after a permanent rejection", until)
	}
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	subs := NewMemorySubscriptions()
	subs.Create(context.Background(), &Subscription{
		ID: "sub-1", CallbackURL: srv.URL, SigningSecret: testSecret,
		EventTypes: []string{"*"}, Status: StatusActive,
		MaxAttempts: 2,
	})
	d := NewDeliverer(q, subs, NewMemoryDeliveries(),
		ratelimit.NewLocal(60, time.Minute), breaker.NewLocal(5, 300*time.Second),
		DelivererConfig{MaxAttempts: 8, BackoffMs: 10})

	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)
	if len(q.rescheduled) != 1 {
		t.Fatalf("first failure should reschedule, got dead=%d", len(q.dead))
	}
	d.Deliver(context.Background(), q.rescheduled[0])
	if len(q.dead) != 1 {
		t.Fatalf("second failure should dead-letter with max_attempts=2")
	}
	if q.dead[0].Attempt != 2 {
		t.Errorf("dead attempt = %d, want 2", q.dead[0].Attempt)
	}
}

func TestDeliverBreakerOpenSkipsPost(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	d, _, _ := testDeliverer(t, srv.URL, q)

	// Five consecutive failures inside the window trip the breaker.
	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	for i := 0; i < 5; i++ {
		m := msg
		m.Attempt = i
		d.Deliver(context.Background(), m)
	}
	posted := calls.Load()
	if posted != 5 {
		t.Fatalf("POSTs before trip = %d, want 5", posted)
	}

	next := NewDelivery("evt-2", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), next)
	if calls.Load() != posted {
		t.Errorf("tripped breaker still POSTed")
	}
	if len(q.rescheduleAt) == 0 {
		t.Fatal("tripped delivery not rescheduled")
	}
	last := q.rescheduleAt[len(q.rescheduleAt)-1]
	if !last.After(time.Now().Add(250 * time.Second)) {
		t.Errorf("rescheduled to %v, want near tripped_until (~300s out)", last)
	}
}

func TestDeliverRateLimited(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	q := &recordingQueue{}
	d, _, _ := testDeliverer(t, srv.URL, q)
	d.limiter = denyLimiter{retryAfter: 30 * time.Second}
	start := time.Now()
	d.now = func() time.Time { return start }

	msg := NewDelivery("evt-1", "sub-1", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)

	if calls.Load() != 0 {
		t.Errorf("over-budget delivery still POSTed")
	}
	if len(q.rescheduleAt) != 1 || !q.rescheduleAt[0].Equal(start.Add(30*time.Second)) {
		t.Errorf("rescheduled to %v, want window reset", q.rescheduleAt)
	}
}

func TestDeliverUnknownSubscription(t *testing.T) {
	q := &recordingQueue{}
	d := NewDeliverer(q, NewMemorySubscriptions(), NewMemoryDeliveries(),
		ratelimit.NewLocal(60, time.Minute), breaker.NewLocal(5, 300*time.Second),
		DelivererConfig{})

	msg := NewDelivery("evt-1", "ghost", "aircraft.position.updated", []byte(`{}`))
	d.Deliver(context.Background(), msg)
	if len(q.dead) != 1 {
		t.Errorf("orphaned delivery not dead-lettered")
	}
}

func TestRetryDelayCap(t *testing.T) {
	for attempt := 1; attempt <= 30; attempt++ {
		if d := retryDelay(1000, attempt); d > time.Hour {
			t.Fatalf("attempt %d: delay %v exceeds cap", attempt, d)
		}
	}
}
