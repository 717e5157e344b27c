package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skytrack/skytrack/internal/model"
)

// Memory is the in-process Store and HistoryStore used by tests and
// databaseless dev runs. The merge contract is identical to Postgres.
type Memory struct {
	mu      sync.RWMutex
	latest  map[string]model.AircraftState
	history map[string][]model.AircraftState

	staleAfter  int64
	graceWindow int64
	now         func() time.Time
}

// NewMemory creates an empty Memory store with the default merge windows.
func NewMemory() *Memory {
	return &Memory{
		latest:      make(map[string]model.AircraftState),
		history:     make(map[string][]model.AircraftState),
		staleAfter:  int64(DefaultStaleAfter / time.Second),
		graceWindow: int64(DefaultGraceWindow / time.Second),
		now:         time.Now,
	}
}

func (m *Memory) Upsert(ctx context.Context, st model.AircraftState) (bool, error) {
	if !st.HasPosition() {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, exists := m.latest[st.Icao24]
	if exists && !m.wins(st, old) {
		return false, nil
	}
	// Sticky identity fields survive a less complete update.
	if exists {
		if st.Registration == "" {
			st.Registration = old.Registration
		}
		if st.AircraftType == "" {
			st.AircraftType = old.AircraftType
		}
		if st.AircraftDesc == "" {
			st.AircraftDesc = old.AircraftDesc
		}
	}
	m.latest[st.Icao24] = st
	return true, nil
}

// wins applies the same four rules as the Postgres ON CONFLICT predicate.
func (m *Memory) wins(incoming, existing model.AircraftState) bool {
	switch {
	case incoming.SourcePriority < existing.SourcePriority:
		return true
	case incoming.SourcePriority == existing.SourcePriority:
		return incoming.LastContact >= existing.LastContact
	default:
		nowSec := m.now().Unix()
		return existing.LastContact < nowSec-m.staleAfter ||
			incoming.LastContact > existing.LastContact+m.graceWindow
	}
}

func (m *Memory) Get(ctx context.Context, icao24 string) (*model.AircraftState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.latest[icao24]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *Memory) GetByCallsign(ctx context.Context, callsign string) (*model.AircraftState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.AircraftState
	for _, st := range m.latest {
		if st.Callsign != callsign {
			continue
		}
		if best == nil || st.LastContact > best.LastContact {
			s := st
			best = &s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *Memory) FindInBounds(ctx context.Context, latMin, lonMin, latMax, lonMax float64, minLastContact int64) ([]model.AircraftState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AircraftState
	for _, st := range m.latest {
		if st.LastContact < minLastContact {
			continue
		}
		if *st.Latitude < latMin || *st.Latitude > latMax ||
			*st.Longitude < lonMin || *st.Longitude > lonMax {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (m *Memory) Recent(ctx context.Context, since int64, limit int) ([]model.AircraftState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AircraftState
	for _, st := range m.latest {
		if st.LastContact >= since {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastContact > out[j].LastContact })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendHistory(ctx context.Context, st model.AircraftState) error {
	if !st.HasPosition() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.history[st.Icao24]
	// Same dedup the unique key gives Postgres.
	for _, r := range rows {
		if r.LastContact == st.LastContact {
			return nil
		}
	}
	m.history[st.Icao24] = append(rows, st)
	return nil
}

func (m *Memory) History(ctx context.Context, icao24 string, from, to time.Time) ([]model.AircraftState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AircraftState
	for _, st := range m.history[icao24] {
		if st.LastContact >= from.Unix() && st.LastContact <= to.Unix() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastContact < out[j].LastContact })
	return out, nil
}

func (m *Memory) Close() {}

// Len reports the number of latest rows; test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.latest)
}
