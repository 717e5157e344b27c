package predict

import "math"

const (
	earthRadiusM = 6371000.0
	degToRad     = math.Pi / 180
	radToDeg     = 180 / math.Pi

	// Local flat-earth projection scale for dead reckoning.
	metersPerDegLat = 111000.0
)

// HaversineM returns the great-circle distance in meters.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Interpolate returns the point at fraction f along the great circle from
// (lat1, lon1) to (lat2, lon2), using spherical linear interpolation. f is
// clamped to [0, 1].
func Interpolate(lat1, lon1, lat2, lon2, f float64) (lat, lon float64) {
	if f <= 0 {
		return lat1, lon1
	}
	if f >= 1 {
		return lat2, lon2
	}

	φ1, λ1 := lat1*degToRad, lon1*degToRad
	φ2, λ2 := lat2*degToRad, lon2*degToRad

	d := HaversineM(lat1, lon1, lat2, lon2) / earthRadiusM
	if d == 0 {
		return lat1, lon1
	}
	sinD := math.Sin(d)
	a := math.Sin((1-f)*d) / sinD
	b := math.Sin(f*d) / sinD

	x := a*math.Cos(φ1)*math.Cos(λ1) + b*math.Cos(φ2)*math.Cos(λ2)
	y := a*math.Cos(φ1)*math.Sin(λ1) + b*math.Cos(φ2)*math.Sin(λ2)
	z := a*math.Sin(φ1) + b*math.Sin(φ2)

	lat = math.Atan2(z, math.Sqrt(x*x+y*y)) * radToDeg
	lon = math.Atan2(y, x) * radToDeg
	return lat, lon
}

// DeadReckon advances a position along a track at a constant speed for
// elapsed seconds, using a local flat-earth projection. Good enough for the
// few minutes the predictor is allowed to extrapolate.
func DeadReckon(lat, lon, trackDeg, velocityMS, elapsedSec float64) (newLat, newLon float64) {
	track := trackDeg * degToRad
	dist := velocityMS * elapsedSec

	dNorth := dist * math.Cos(track)
	dEast := dist * math.Sin(track)

	newLat = lat + dNorth/metersPerDegLat
	mPerDegLon := metersPerDegLat * math.Cos(lat*degToRad)
	if mPerDegLon < 1 {
		// Near the poles east displacement is meaningless.
		return newLat, lon
	}
	newLon = lon + dEast/mPerDegLon

	if newLon > 180 {
		newLon -= 360
	} else if newLon < -180 {
		newLon += 360
	}
	if newLat > 90 {
		newLat = 90
	} else if newLat < -90 {
		newLat = -90
	}
	return newLat, newLon
}
