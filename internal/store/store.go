// Package store is the durable source of truth: one latest row per airframe,
// merged under the source-priority contract, plus an append-only history used
// for trajectory reconstruction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/skytrack/skytrack/internal/model"
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("store: not found")

// Defaults for the upsert contract. A lower-trust update may replace a
// higher-trust row only once that row is stale or the update is clearly newer.
const (
	DefaultStaleAfter  = 300 * time.Second
	DefaultGraceWindow = 30 * time.Second
)

// Store holds the latest accepted state per icao24.
type Store interface {
	// Upsert applies the priority merge and reports whether the incoming
	// state won. A false return with nil error means the existing row was
	// fresher or more trusted.
	Upsert(ctx context.Context, st model.AircraftState) (bool, error)
	Get(ctx context.Context, icao24 string) (*model.AircraftState, error)
	GetByCallsign(ctx context.Context, callsign string) (*model.AircraftState, error)
	// FindInBounds returns rows inside the rectangle heard at or after
	// minLastContact.
	FindInBounds(ctx context.Context, latMin, lonMin, latMax, lonMax float64, minLastContact int64) ([]model.AircraftState, error)
	// Recent returns rows heard at or after since, newest first; used to warm
	// the live cache on startup.
	Recent(ctx context.Context, since int64, limit int) ([]model.AircraftState, error)
	Close()
}

// HistoryStore appends and reads the time-series snapshots.
type HistoryStore interface {
	// AppendHistory is best-effort: duplicate-key conflicts are swallowed.
	AppendHistory(ctx context.Context, st model.AircraftState) error
	History(ctx context.Context, icao24 string, from, to time.Time) ([]model.AircraftState, error)
}

// HistorySink receives accepted history rows for analytics mirroring.
// Failures must never affect the upsert path.
type HistorySink interface {
	Write(ctx context.Context, st model.AircraftState) error
	Close() error
}
