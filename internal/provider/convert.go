package provider

// Unit conversion factors. Adapters are the only place these exist;
// everything downstream speaks meters, m/s and Unix seconds.
const (
	FeetToMeters    = 0.3048
	FtPerMinToMPS   = 0.00508
	KnotsToMPS      = 0.514444
	MetersPerNM     = 1852.0
	groundAltitudeM = 30.48 // 100 ft
	groundSpeedKts  = 50.0
)

// FeetToM converts feet to meters.
func FeetToM(ft float64) float64 { return ft * FeetToMeters }

// FtMinToMS converts feet per minute to meters per second.
func FtMinToMS(fpm float64) float64 { return fpm * FtPerMinToMPS }

// KtsToMS converts knots to meters per second.
func KtsToMS(kts float64) float64 { return kts * KnotsToMPS }

// OnGroundHeuristic decides grounded-ness when the provider omits the flag:
// below 100 ft or slower than 50 kt counts as on the ground. Both inputs are
// provider-native units (meters after conversion, knots before).
func OnGroundHeuristic(altitudeM, velocityKts *float64) bool {
	if altitudeM != nil && *altitudeM < groundAltitudeM {
		return true
	}
	if velocityKts != nil && *velocityKts < groundSpeedKts {
		return true
	}
	return false
}
