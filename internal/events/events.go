// Package events turns accepted aircraft states into canonical versioned
// events and fans them out: once to the pub/sub channel feeding the
// WebSocket broadcaster, and once per matching webhook subscription into the
// delivery queue.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/skytrack/skytrack/internal/model"
)

// Event types. Position updates are the essential type: backpressure may
// shed anything else, never these.
const (
	TypePositionUpdated = "aircraft.position.updated"
)

// Version tags the envelope schema.
const Version = "v1"

// Event is the canonical envelope. The marshaled bytes are what subscribers
// sign-check, so the envelope is serialized exactly once per event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Version    string          `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewPositionUpdated builds the envelope for one accepted state. The state
// carries its own provenance fields.
func NewPositionUpdated(st model.AircraftState, occurredAt time.Time) (Event, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       TypePositionUpdated,
		Version:    Version,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}, nil
}

// Essential reports whether backpressure may drop this event type.
func Essential(eventType string) bool {
	return eventType == TypePositionUpdated
}
