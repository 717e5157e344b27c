// Package routecache holds route enrichments for the bounds planner. Routes
// arrive from the paid provider as a side channel and expire on their own;
// they are never authoritative.
package routecache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/skytrack/skytrack/internal/model"
)

const (
	defaultSize = 4096
	defaultTTL  = 30 * time.Minute
)

// Cache is a TTL+LRU map keyed by the route key (callsign, else icao24).
type Cache struct {
	lru *expirable.LRU[string, model.Route]
}

// New creates a Cache. Zero values get defaults.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, model.Route](size, nil, ttl)}
}

// PutRoute stores the route under its key. Satisfies provider.RouteSink.
func (c *Cache) PutRoute(r model.Route) {
	key := r.Key()
	if key == "" {
		return
	}
	c.lru.Add(key, r)
}

// Lookup returns the route for a state, trying callsign first, then icao24.
func (c *Cache) Lookup(st *model.AircraftState) (model.Route, bool) {
	if st.Callsign != "" {
		if r, ok := c.lru.Get(st.Callsign); ok {
			return r, true
		}
	}
	if r, ok := c.lru.Get(st.Icao24); ok {
		return r, true
	}
	return model.Route{}, false
}

// Len returns the number of cached routes.
func (c *Cache) Len() int { return c.lru.Len() }
