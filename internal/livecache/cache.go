// Package livecache is the in-process hot map of the latest state per
// airframe. It answers bounding-box scans without touching the store; entries
// expire by TTL and the map is capped by evicting the least recently updated
// entry.
package livecache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
)

const (
	defaultTTL        = 120 * time.Second
	defaultMaxEntries = 20000
	defaultSweep      = 30 * time.Second
)

type entry struct {
	state     model.AircraftState
	updatedAt int64 // epoch ms
}

// Cache is safe for concurrent use. Scans are point-in-time snapshots with no
// cross-entry ordering guarantee.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	sweepEvery time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Cache from config, applying defaults for zero values.
func New(cfg config.LiveStateConfig) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		ttl:        time.Duration(cfg.TTLSeconds) * time.Second,
		maxEntries: cfg.MaxEntries,
		sweepEvery: time.Duration(cfg.CleanupIntervalSeconds) * time.Second,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = defaultMaxEntries
	}
	if c.sweepEvery <= 0 {
		c.sweepEvery = defaultSweep
	}
	return c
}

// Start launches the periodic sweep.
func (c *Cache) Start() {
	go c.run()
}

// Stop halts the sweep. Idempotent.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// Upsert stores the state unconditionally; merge policy is the store's job,
// the cache just mirrors what ingestion accepted. O(1) except when full.
func (c *Cache) Upsert(st model.AircraftState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[st.Icao24]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[st.Icao24] = entry{state: st, updatedAt: c.now().UnixMilli()}
	metrics.CacheSize.Set(float64(len(c.entries)))
}

// Get returns the entry if present and not expired.
func (c *Cache) Get(icao24 string) (model.AircraftState, bool) {
	c.mu.RLock()
	e, ok := c.entries[icao24]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheMisses.Inc()
		return model.AircraftState{}, false
	}
	if c.expired(e) {
		c.mu.Lock()
		// Re-check under the write lock; an upsert may have raced the expiry.
		if cur, ok := c.entries[icao24]; ok && c.expired(cur) {
			delete(c.entries, icao24)
			metrics.CacheSize.Set(float64(len(c.entries)))
		}
		c.mu.Unlock()
		metrics.CacheMisses.Inc()
		return model.AircraftState{}, false
	}
	metrics.CacheHits.Inc()
	return e.state, true
}

// Scan returns every live entry whose position falls inside the rectangle.
// Expired entries encountered on the way are collected and dropped.
func (c *Cache) Scan(latMin, lonMin, latMax, lonMax float64) []model.AircraftState {
	var out []model.AircraftState
	var dead []string

	c.mu.RLock()
	for icao, e := range c.entries {
		if c.expired(e) {
			dead = append(dead, icao)
			continue
		}
		st := e.state
		if !st.HasPosition() {
			continue
		}
		if *st.Latitude < latMin || *st.Latitude > latMax ||
			*st.Longitude < lonMin || *st.Longitude > lonMax {
			continue
		}
		out = append(out, st)
	}
	c.mu.RUnlock()

	if len(dead) > 0 {
		c.dropExpired(dead)
	}
	if len(out) > 0 {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
	return out
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) expired(e entry) bool {
	return c.now().UnixMilli()-e.updatedAt > c.ttl.Milliseconds()
}

// evictOldestLocked removes the single entry with the smallest updatedAt.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt int64
	for icao, e := range c.entries {
		if oldestKey == "" || e.updatedAt < oldestAt {
			oldestKey, oldestAt = icao, e.updatedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		metrics.CacheEvictions.Inc()
	}
}

func (c *Cache) dropExpired(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, icao := range keys {
		if e, ok := c.entries[icao]; ok && c.expired(e) {
			delete(c.entries, icao)
			metrics.CacheEvictions.Inc()
		}
	}
	metrics.CacheSize.Set(float64(len(c.entries)))
}

func (c *Cache) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops every expired entry in one pass.
func (c *Cache) sweep() {
	c.mu.Lock()
	removed := 0
	for icao, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, icao)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictions.Add(float64(removed))
		metrics.CacheSize.Set(float64(size))
		logging.Debug("live cache swept", zap.Int("removed", removed), zap.Int("size", size))
	}
}
