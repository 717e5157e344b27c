// Package planner answers bounding-box queries by merging the live cache
// with the store, enriching with routes, and handing survivors to the
// predictor. Everything here is read-only and idempotent; annotations like
// is_stale and predicted exist only in the response.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/livecache"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/predict"
	"github.com/skytrack/skytrack/internal/provider"
	"github.com/skytrack/skytrack/internal/routecache"
	"github.com/skytrack/skytrack/internal/store"
)

const (
	// Hard cap on the recency window regardless of configuration.
	maxThreshold = 30 * time.Minute

	// Entries older than this are flagged stale; grounded ones are dropped.
	staleFlagAge = 15 * time.Minute
)

var icao24Pattern = regexp.MustCompile(`^[0-9a-f]{6}$`)

// Aircraft is one result row: the state plus its optional route enrichment.
type Aircraft struct {
	model.AircraftState
	Route *model.Route `json:"route,omitempty"`
}

// Planner merges the hot and durable views of the sky.
type Planner struct {
	cache     *livecache.Cache // nil when the live cache is disabled
	store     store.Store
	routes    *routecache.Cache
	predictor *predict.Predictor

	threshold      time.Duration
	minCacheHits   int
	now            func() time.Time
}

// New creates a Planner. cache and routes may be nil.
func New(cache *livecache.Cache, st store.Store, routes *routecache.Cache, cfg config.QueryConfig, liveCfg config.LiveStateConfig) *Planner {
	threshold := time.Duration(cfg.RecentContactThresholdSeconds) * time.Second
	if threshold <= 0 || threshold > maxThreshold {
		threshold = maxThreshold
	}
	return &Planner{
		cache:        cache,
		store:        st,
		routes:       routes,
		predictor:    predict.New(),
		threshold:    threshold,
		minCacheHits: liveCfg.MinResultsBeforeDBFallback,
		now:          time.Now,
	}
}

// AircraftInBounds runs the full pipeline for one rectangle.
func (p *Planner) AircraftInBounds(ctx context.Context, b provider.Bounds) ([]Aircraft, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	if b.Empty() {
		return []Aircraft{}, nil
	}

	now := p.now()
	minLastContact := now.Add(-p.threshold).Unix()

	merged, err := p.collect(ctx, b, minLastContact)
	if err != nil {
		return nil, err
	}

	out := make([]Aircraft, 0, len(merged))
	for _, st := range merged {
		if ac, keep := p.enrich(st, now); keep {
			out = append(out, ac)
		}
	}
	return out, nil
}

// AircraftByIdentifier resolves one airframe by icao24 or callsign and runs
// it through the same enrichment as a bounds query.
func (p *Planner) AircraftByIdentifier(ctx context.Context, identifier string) (*Aircraft, error) {
	var st *model.AircraftState
	var err error
	if icao24Pattern.MatchString(identifier) {
		st, err = p.store.Get(ctx, identifier)
	} else {
		st, err = p.store.GetByCallsign(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}
	ac, _ := p.enrich(*st, p.now())
	return &ac, nil
}

// enrich attaches the route, applies the staleness rules, snaps arrivals and
// predicts. keep is false for grounded rows past the stale age.
func (p *Planner) enrich(st model.AircraftState, now time.Time) (ac Aircraft, keep bool) {
	ac = Aircraft{AircraftState: st}

	if p.routes != nil {
		if r, ok := p.routes.Lookup(&ac.AircraftState); ok {
			route := r
			ac.Route = &route
		}
	}

	if ac.Age(now) > staleFlagAge {
		if ac.OnGround {
			return ac, false // landed long ago, noise
		}
		ac.IsStale = true
	}

	if p.snapToArrival(&ac, now) {
		return ac, true
	}

	p.predictor.Predict(&ac.AircraftState, ac.Route)
	return ac, true
}

// collect queries the cache, falls back to the store when the cache is cold,
// and merges the two views keeping the freshest contact per airframe.
func (p *Planner) collect(ctx context.Context, b provider.Bounds, minLastContact int64) (map[string]model.AircraftState, error) {
	merged := make(map[string]model.AircraftState)

	cacheHits := 0
	if p.cache != nil {
		for _, st := range p.cache.Scan(b.LatMin, b.LonMin, b.LatMax, b.LonMax) {
			if st.LastContact < minLastContact {
				continue
			}
			merged[st.Icao24] = st
			cacheHits++
		}
	}

	if cacheHits >= p.minCacheHits && p.minCacheHits > 0 {
		return merged, nil
	}

	stored, err := p.store.FindInBounds(ctx, b.LatMin, b.LonMin, b.LatMax, b.LonMax, minLastContact)
	if err != nil {
		// A cold cache plus a failing store means no answer; a warm cache
		// degrades to serving what it has.
		if cacheHits == 0 {
			return nil, fmt.Errorf("planner: store query: %w", err)
		}
		logging.Warn("planner: store query failed, serving cache only", zap.Error(err))
		return merged, nil
	}
	for _, st := range stored {
		if cur, ok := merged[st.Icao24]; !ok || st.LastContact > cur.LastContact {
			merged[st.Icao24] = st
		}
	}
	return merged, nil
}

// snapToArrival pins an arrived flight to its arrival airport: position at
// the field, zero velocity, on the ground. Returns true when it applied.
func (p *Planner) snapToArrival(ac *Aircraft, now time.Time) bool {
	if ac.Route == nil || !ac.Route.Arrived(now) {
		return false
	}
	arr := ac.Route.Arrival
	if !arr.HasPosition() {
		return false
	}
	ac.Latitude = model.Float(*arr.Lat)
	ac.Longitude = model.Float(*arr.Lng)
	ac.Velocity = model.Float(0)
	ac.VerticalRate = nil
	ac.OnGround = true
	return true
}
