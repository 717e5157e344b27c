package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Channel is the single logical pub/sub topic.
const Channel = "events"

// Bus is the fire-and-forget fan-out between the publisher and in-process
// consumers such as the WebSocket broadcaster.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe returns a receive channel and a cancel func. The channel is
	// closed after cancel.
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}

// RedisBus carries events over a Redis pub/sub channel so that broadcasters
// in other processes see them too.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisBus creates a bus on the standard channel.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client, channel: Channel}
}

func (b *RedisBus) Publish(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// Confirm the subscription before handing the channel out.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, err
	}
	out := make(chan []byte, 256)
	in := ps.Channel()
	go func() {
		defer close(out)
		for msg := range in {
			out <- []byte(msg.Payload)
		}
	}()
	return out, func() { ps.Close() }, nil
}

// MemoryBus is the in-process bus for tests and single-node dev runs.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]chan []byte
	next int
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan []byte)}
}

func (b *MemoryBus) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- payload:
		default:
			// Slow subscriber; pub/sub has no delivery guarantee.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan []byte, 256)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel, nil
}
