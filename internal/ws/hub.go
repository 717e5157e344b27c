package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/events"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/provider"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultMaxBatch      = 500
	sendBuffer           = 32
	pingInterval         = 30 * time.Second
)

// RoomKey derives the canonical room id for a rectangle. Coordinates round
// to 0.01 degrees so that nearly identical viewports share a room.
func RoomKey(b provider.Bounds) string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f",
		round2(b.LatMin), round2(b.LonMin), round2(b.LatMax), round2(b.LonMax))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// room is one bbox with its viewers and the batch being accumulated.
type room struct {
	key     string
	bounds  provider.Bounds
	clients map[*client]struct{}
	// pending dedups per icao24, latest-wins, until the next flush.
	pending map[string]model.AircraftState
}

type client struct {
	conn *Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// Hub consumes the event bus and fans position updates out to bbox rooms in
// batched increments.
type Hub struct {
	bus           events.Bus
	flushInterval time.Duration
	maxBatch      int

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub creates a hub. Zero values fall back to the 500 ms / 500 item
// defaults.
func NewHub(bus events.Bus, flushInterval time.Duration, maxBatch int) *Hub {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	return &Hub{
		bus:           bus,
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		rooms:         make(map[string]*room),
	}
}

// Run consumes the bus until ctx ends, flushing batches on the interval.
func (h *Hub) Run(ctx context.Context) error {
	updates, cancel, err := h.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("ws: subscribe: %w", err)
	}
	defer cancel()

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case raw, ok := <-updates:
			if !ok {
				h.closeAll()
				return nil
			}
			h.ingest(raw)
		case <-ticker.C:
			h.flushAll()
		}
	}
}

// ingest routes one bus message into every room whose bbox contains it.
func (h *Hub) ingest(raw []byte) {
	var evt events.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		logging.Debug("ws: bad bus payload", zap.Error(err))
		return
	}
	if evt.Type != events.TypePositionUpdated {
		return
	}
	var st model.AircraftState
	if err := json.Unmarshal(evt.Payload, &st); err != nil {
		logging.Debug("ws: bad event payload", zap.Error(err))
		return
	}
	if !st.HasPosition() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		if !r.bounds.Contains(*st.Latitude, *st.Longitude) {
			continue
		}
		r.pending[st.Icao24] = st
		if len(r.pending) >= h.maxBatch {
			h.flushRoomLocked(r)
		}
	}
}

func (h *Hub) flushAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		h.flushRoomLocked(r)
	}
}

// flushRoomLocked emits one incremental message for the room's batch.
func (h *Hub) flushRoomLocked(r *room) {
	if len(r.pending) == 0 {
		return
	}
	updated := make([]model.AircraftState, 0, len(r.pending))
	for _, st := range r.pending {
		updated = append(updated, st)
	}
	r.pending = make(map[string]model.AircraftState)

	msg, err := json.Marshal(map[string]any{
		"type": "incremental",
		"room": r.key,
		"data": map[string]any{"updated": updated},
	})
	if err != nil {
		return
	}
	metrics.WSBatches.Inc()
	for c := range r.clients {
		select {
		case c.send <- msg:
		default:
			// Client is not draining; drop it rather than block the hub.
			h.removeLocked(c)
		}
	}
}

// Subscribe adds a client to the room for b, creating it when absent.
func (h *Hub) subscribe(c *client, b provider.Bounds) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	key := RoomKey(b)
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[key]
	if !ok {
		r = &room{
			key:     key,
			bounds:  b,
			clients: make(map[*client]struct{}),
			pending: make(map[string]model.AircraftState),
		}
		h.rooms[key] = r
	}
	r.clients[c] = struct{}{}
	return key, nil
}

// unsubscribe removes the client from one room, deleting the room when it
// empties.
func (h *Hub) unsubscribe(c *client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[key]
	if !ok {
		return
	}
	delete(r.clients, c)
	if len(r.clients) == 0 {
		delete(h.rooms, key)
	}
}

// removeLocked drops a client from every room.
func (h *Hub) removeLocked(c *client) {
	for key, r := range h.rooms {
		delete(r.clients, c)
		if len(r.clients) == 0 {
			delete(h.rooms, key)
		}
	}
	c.close()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for c := range r.clients {
			c.close()
		}
	}
	h.rooms = make(map[string]*room)
}

// roomCount reports the live room total; test helper.
func (h *Hub) roomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
