// Package model defines the canonical aircraft surveillance types shared by
// every component: adapters produce them, the queue carries them, the store
// persists them and the query planner serves them.
package model

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// DataSource identifies which upstream network produced an observation.
type DataSource string

const (
	SourceFeeder            DataSource = "feeder"
	SourceFreeNetwork       DataSource = "free-network"
	SourceCommercialNetwork DataSource = "commercial-network"
	SourceAeroAPI           DataSource = "aero-api"
)

// Priority returns the trust rank of a source. Lower wins.
func (s DataSource) Priority() int {
	switch s {
	case SourceFeeder:
		return 10
	case SourceCommercialNetwork:
		return 20
	case SourceFreeNetwork:
		return 30
	case SourceAeroAPI:
		return 40
	default:
		return 100
	}
}

// Valid reports whether s is one of the known sources.
func (s DataSource) Valid() bool {
	switch s {
	case SourceFeeder, SourceFreeNetwork, SourceCommercialNetwork, SourceAeroAPI:
		return true
	}
	return false
}

var icao24Pattern = regexp.MustCompile(`^[0-9a-f]{6}$`)

// AircraftState is the canonical observation of one aircraft at one moment.
// All kinematics are SI: meters, meters per second, degrees. Timestamps are
// Unix seconds. Adapters own every unit conversion; nothing downstream ever
// sees feet or knots.
type AircraftState struct {
	Icao24       string `json:"icao24"`
	Callsign     string `json:"callsign,omitempty"`
	Registration string `json:"registration,omitempty"`

	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	BaroAltitude *float64 `json:"baro_altitude,omitempty"`
	GeoAltitude  *float64 `json:"geo_altitude,omitempty"`
	Velocity     *float64 `json:"velocity,omitempty"`
	TrueTrack    *float64 `json:"true_track,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`

	OnGround        bool   `json:"on_ground"`
	Squawk          string `json:"squawk,omitempty"`
	EmergencyStatus string `json:"emergency_status,omitempty"`
	Category        *int   `json:"category"`
	AircraftType    string `json:"aircraft_type,omitempty"`
	AircraftDesc    string `json:"aircraft_description,omitempty"`

	DataSource         DataSource `json:"data_source"`
	SourcePriority     int        `json:"source_priority"`
	TimePosition       *int64     `json:"time_position,omitempty"`
	LastContact        int64      `json:"last_contact"`
	IngestionTimestamp int64      `json:"ingestion_timestamp,omitempty"`

	// Query-time annotations. Never persisted.
	IsStale    bool    `json:"is_stale,omitempty"`
	Predicted  bool    `json:"predicted,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// CategoryRotorcraft is the canonical category for helicopters; the
// trajectory predictor refuses to extrapolate these.
const CategoryRotorcraft = 7

// Normalize canonicalizes identity fields and coerces out-of-range values
// in place: icao24 lowercased, callsign upper-trimmed, category outside
// [0,19] dropped to null.
func (a *AircraftState) Normalize() {
	a.Icao24 = strings.ToLower(strings.TrimSpace(a.Icao24))
	a.Callsign = strings.ToUpper(strings.TrimSpace(a.Callsign))
	if len(a.Callsign) > 8 {
		a.Callsign = a.Callsign[:8]
	}
	if a.Category != nil && (*a.Category < 0 || *a.Category > 19) {
		a.Category = nil
	}
	if a.SourcePriority == 0 {
		a.SourcePriority = a.DataSource.Priority()
	}
}

// Validate rejects observations the pipeline cannot key or place. It assumes
// Normalize has run.
func (a *AircraftState) Validate() error {
	if !icao24Pattern.MatchString(a.Icao24) {
		return fmt.Errorf("icao24 %q: must be 6 lowercase hex chars", a.Icao24)
	}
	if a.Latitude == nil || a.Longitude == nil {
		return fmt.Errorf("icao24 %s: missing position", a.Icao24)
	}
	if math.IsNaN(*a.Latitude) || math.IsNaN(*a.Longitude) {
		return fmt.Errorf("icao24 %s: NaN coordinate", a.Icao24)
	}
	if *a.Latitude < -90 || *a.Latitude > 90 || *a.Longitude < -180 || *a.Longitude > 180 {
		return fmt.Errorf("icao24 %s: coordinate out of range (%f, %f)", a.Icao24, *a.Latitude, *a.Longitude)
	}
	if a.LastContact <= 0 {
		return fmt.Errorf("icao24 %s: missing last_contact", a.Icao24)
	}
	if a.TimePosition != nil && a.LastContact < *a.TimePosition {
		return fmt.Errorf("icao24 %s: last_contact before time_position", a.Icao24)
	}
	return nil
}

// HasPosition reports whether the state carries usable coordinates.
func (a *AircraftState) HasPosition() bool {
	return a.Latitude != nil && a.Longitude != nil &&
		!math.IsNaN(*a.Latitude) && !math.IsNaN(*a.Longitude)
}

// Age returns how long ago the aircraft was last heard, relative to now.
func (a *AircraftState) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(a.LastContact, 0))
}

// emitterCategories maps ADS-B emitter category codes to the canonical
// 0..19 integer. The table is fixed; unknown codes map to null upstream.
var emitterCategories = map[string]int{
	"A0": 0, "A1": 1, "A2": 2, "A3": 3, "A4": 4, "A5": 5, "A6": 6, "A7": 7,
	"B0": 8, "B1": 9, "B2": 10, "B3": 11, "B4": 12, "B5": 13, "B6": 14, "B7": 15,
	"C0": 16, "C1": 17, "C2": 18, "C3": 19,
}

// CategoryFromEmitter converts an ADS-B emitter code ("A3", "B1", ...) to
// the canonical category. Returns nil for codes outside the fixed table.
func CategoryFromEmitter(code string) *int {
	code = strings.ToUpper(strings.TrimSpace(code))
	if c, ok := emitterCategories[code]; ok {
		v := c
		return &v
	}
	return nil
}

// Float returns a pointer to v; convenience for optional kinematics.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
