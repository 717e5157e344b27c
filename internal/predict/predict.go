// Package predict extrapolates a current position for aircraft whose last
// contact is recent enough to trust but old enough to have drifted. Output is
// annotation only: predicted states are returned to the caller and never
// written back to the store or cache.
package predict

import (
	"time"

	"github.com/skytrack/skytrack/internal/model"
)

const (
	// Eligibility window: younger needs no prediction, older is guesswork.
	minAge = 30 * time.Second
	maxAge = 10 * time.Minute

	// Below this speed dead reckoning amplifies noise more than it helps.
	minVelocityMS = 50.0

	maxAltitudeM = 50000.0

	minConfidence = 0.5
)

// Flight-phase altitude bands used when no vertical rate is known.
const (
	climbPhaseEnd   = 0.15
	descentPhaseTop = 0.85
	cruiseAltitudeM = 10500.0
)

// Predictor is stateless apart from an injectable clock.
type Predictor struct {
	now func() time.Time
}

// New creates a Predictor.
func New() *Predictor {
	return &Predictor{now: time.Now}
}

// Eligible reports whether a state qualifies for prediction: last contact
// between 30 s and 10 min old, moving at or above 50 m/s, and not a
// rotorcraft (their tracks are not ballistic enough to extrapolate).
func (p *Predictor) Eligible(st *model.AircraftState) bool {
	if !st.HasPosition() || st.OnGround {
		return false
	}
	if st.Velocity == nil || *st.Velocity < minVelocityMS {
		return false
	}
	if st.Category != nil && *st.Category == model.CategoryRotorcraft {
		return false
	}
	age := st.Age(p.now())
	return age >= minAge && age <= maxAge
}

// Predict annotates the state with an extrapolated position in place. route
// may be nil; with airport coordinates on both ends the position follows the
// great circle, otherwise dead reckoning along the last known track.
func (p *Predictor) Predict(st *model.AircraftState, route *model.Route) {
	if !p.Eligible(st) {
		return
	}
	elapsed := st.Age(p.now()).Seconds()

	routed := route != nil && route.Departure.HasPosition() && route.Arrival.HasPosition()
	if routed {
		p.predictAlongRoute(st, route, elapsed)
	} else if st.TrueTrack != nil {
		lat, lon := DeadReckon(*st.Latitude, *st.Longitude, *st.TrueTrack, *st.Velocity, elapsed)
		st.Latitude, st.Longitude = &lat, &lon
	} else {
		return // nothing to extrapolate along
	}

	p.predictAltitude(st, route, elapsed, routed)

	st.Predicted = true
	st.Confidence = confidence(elapsed, routed)
}

// predictAlongRoute moves the aircraft forward on the departure-arrival
// great circle. Progress is a 0.7/0.3 blend of time-based and distance-based
// estimates, advanced by the distance flown since last contact.
func (p *Predictor) predictAlongRoute(st *model.AircraftState, route *model.Route, elapsed float64) {
	depLat, depLon := *route.Departure.Lat, *route.Departure.Lng
	arrLat, arrLon := *route.Arrival.Lat, *route.Arrival.Lng

	total := HaversineM(depLat, depLon, arrLat, arrLon)
	if total < 1000 {
		return
	}

	distProgress := HaversineM(depLat, depLon, *st.Latitude, *st.Longitude) / total

	progress := distProgress
	if dep := departureTime(route); dep != nil {
		if dur := flightDuration(route, total, *st.Velocity); dur > 0 {
			timeProgress := p.now().Sub(*dep).Seconds() / dur
			progress = 0.7*timeProgress + 0.3*distProgress
		}
	}

	progress += *st.Velocity * elapsed / total
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	lat, lon := Interpolate(depLat, depLon, arrLat, arrLon, progress)
	st.Latitude, st.Longitude = &lat, &lon
}

// predictAltitude extrapolates linearly when a vertical rate is known,
// otherwise falls back to a coarse phase heuristic on routed flights.
func (p *Predictor) predictAltitude(st *model.AircraftState, route *model.Route, elapsed float64, routed bool) {
	if st.BaroAltitude != nil && st.VerticalRate != nil {
		alt := *st.BaroAltitude + *st.VerticalRate*elapsed
		if alt < 0 {
			alt = 0
		}
		if alt > maxAltitudeM {
			alt = maxAltitudeM
		}
		st.BaroAltitude = &alt
		return
	}
	if !routed || st.BaroAltitude == nil {
		return
	}

	depLat, depLon := *route.Departure.Lat, *route.Departure.Lng
	arrLat, arrLon := *route.Arrival.Lat, *route.Arrival.Lng
	total := HaversineM(depLat, depLon, arrLat, arrLon)
	if total < 1000 {
		return
	}
	progress := HaversineM(depLat, depLon, *st.Latitude, *st.Longitude) / total

	var alt float64
	switch {
	case progress < climbPhaseEnd:
		alt = cruiseAltitudeM * (progress / climbPhaseEnd)
	case progress > descentPhaseTop:
		alt = cruiseAltitudeM * ((1 - progress) / (1 - descentPhaseTop))
	default:
		alt = cruiseAltitudeM
	}
	st.BaroAltitude = &alt
}

// confidence decays from 1.0 with elapsed time, with a penalty for flying
// blind without a route. Floor 0.5 by contract.
func confidence(elapsed float64, routed bool) float64 {
	c := 1.0 - 0.4*(elapsed/maxAge.Seconds())
	if !routed {
		c -= 0.1
	}
	if c < minConfidence {
		c = minConfidence
	}
	return c
}

func departureTime(route *model.Route) *time.Time {
	if route.ActualDeparture != nil {
		return route.ActualDeparture
	}
	return route.ScheduledDeparture
}

// flightDuration prefers the schedule, falling back to distance over current
// speed.
func flightDuration(route *model.Route, totalM, velocityMS float64) float64 {
	dep := departureTime(route)
	arr := route.ScheduledArrival
	if route.ActualArrival != nil {
		arr = route.ActualArrival
	}
	if dep != nil && arr != nil && arr.After(*dep) {
		return arr.Sub(*dep).Seconds()
	}
	if velocityMS > 0 {
		return totalM / velocityMS
	}
	return 0
}
