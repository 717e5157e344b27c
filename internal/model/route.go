package model

import "time"

// Airport is the minimal airport reference attached to a route. Lat/Lng are
// optional because several providers only carry codes.
type Airport struct {
	ICAO string   `json:"icao,omitempty"`
	IATA string   `json:"iata,omitempty"`
	Name string   `json:"name,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// HasPosition reports whether the airport carries coordinates.
func (ap *Airport) HasPosition() bool {
	return ap != nil && ap.Lat != nil && ap.Lng != nil
}

// Route is a per-flight enrichment keyed by callsign when available, else
// icao24. Routes are never authoritative; the bounds planner joins them onto
// states but the store never depends on them.
type Route struct {
	Callsign string `json:"callsign,omitempty"`
	Icao24   string `json:"icao24,omitempty"`

	Departure *Airport `json:"departure,omitempty"`
	Arrival   *Airport `json:"arrival,omitempty"`

	ScheduledDeparture *time.Time `json:"scheduled_departure,omitempty"`
	ActualDeparture    *time.Time `json:"actual_departure,omitempty"`
	ScheduledArrival   *time.Time `json:"scheduled_arrival,omitempty"`
	ActualArrival      *time.Time `json:"actual_arrival,omitempty"`

	AircraftType    string  `json:"aircraft_type,omitempty"`
	ProgressPercent float64 `json:"progress_percent,omitempty"`
	FlightStatus    string  `json:"flight_status,omitempty"`
}

// Key returns the cache key for the route: callsign when present, else icao24.
func (r *Route) Key() string {
	if r.Callsign != "" {
		return r.Callsign
	}
	return r.Icao24
}

// Arrived reports whether the flight has an explicit landed status or an
// actual arrival in the past.
func (r *Route) Arrived(now time.Time) bool {
	if r == nil {
		return false
	}
	switch r.FlightStatus {
	case "landed", "arrived":
		return true
	}
	return r.ActualArrival != nil && r.ActualArrival.Before(now)
}
