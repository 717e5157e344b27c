package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown subscription IDs.
var ErrNotFound = errors.New("webhook: subscription not found")

// SubscriptionStore persists registered endpoints.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
	// ActiveForEvent returns active subscriptions listening for eventType.
	ActiveForEvent(ctx context.Context, eventType string) ([]Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// DeliveryStore records delivery attempts for auditing.
type DeliveryStore interface {
	Record(ctx context.Context, d *Delivery) error
}

// MemorySubscriptions is the in-process store for tests and dev runs.
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewMemorySubscriptions creates an empty store.
func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{subs: make(map[string]Subscription)}
}

func (m *MemorySubscriptions) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemorySubscriptions) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (m *MemorySubscriptions) List(ctx context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (m *MemorySubscriptions) ActiveForEvent(ctx context.Context, eventType string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, sub := range m.subs {
		if sub.Status == StatusActive && sub.WantsEvent(eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *MemorySubscriptions) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemorySubscriptions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

// MemoryDeliveries collects delivery records; test helper.
type MemoryDeliveries struct {
	mu      sync.Mutex
	records []Delivery
}

// NewMemoryDeliveries creates an empty recorder.
func NewMemoryDeliveries() *MemoryDeliveries { return &MemoryDeliveries{} }

func (m *MemoryDeliveries) Record(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := *d
	rec.Body = append([]byte(nil), d.Body...)
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryDeliveries) Records() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.records...)
}
