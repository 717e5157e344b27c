package predict

import (
	"math"
	"testing"
)

func TestHaversineKnownDistances(t *testing.T) {
	// KSFO to KEWR, roughly 4130 km.
	d := HaversineM(37.6213, -122.379, 40.6895, -74.1745)
	if d < 4100000 || d > 4170000 {
		t.Errorf("KSFO-KEWR = %.0f m, want ~4.13e6", d)
	}

	if d := HaversineM(40.0, -74.0, 40.0, -74.0); d != 0 {
		t.Errorf("zero distance = %f", d)
	}

	// One degree of latitude is ~111.2 km.
	d = HaversineM(40.0, -74.0, 41.0, -74.0)
	if math.Abs(d-111200) > 1000 {
		t.Errorf("1 deg lat = %.0f m, want ~111200", d)
	}
}

func TestInterpolateEndpoints(t *testing.T) {
	lat, lon := Interpolate(37.6213, -122.379, 40.6895, -74.1745, 0)
	if lat != 37.6213 || lon != -122.379 {
		t.Errorf("f=0: (%f, %f)", lat, lon)
	}
	lat, lon = Interpolate(37.6213, -122.379, 40.6895, -74.1745, 1)
	if lat != 40.6895 || lon != -74.1745 {
		t.Errorf("f=1: (%f, %f)", lat, lon)
	}
}

func TestInterpolateMidpoint(t *testing.T) {
	lat, lon := Interpolate(37.6213, -122.379, 40.6895, -74.1745, 0.5)

	// The great-circle midpoint bulges north of both endpoints.
	if lat < 40.7 {
		t.Errorf("midpoint lat = %f, expected north of the endpoints", lat)
	}
	if lon > -74.1745 || lon < -122.379 {
		t.Errorf("midpoint lon = %f, outside the corridor", lon)
	}

	// Splitting the arc at the midpoint halves the distance.
	total := HaversineM(37.6213, -122.379, 40.6895, -74.1745)
	half := HaversineM(37.6213, -122.379, lat, lon)
	if math.Abs(half-total/2) > total*0.01 {
		t.Errorf("midpoint at %.0f of %.0f m", half, total)
	}
}

func TestDeadReckonCardinal(t *testing.T) {
	// Due north at 100 m/s for 111 seconds is ~0.1 degrees of latitude.
	lat, lon := DeadReckon(40.0, -74.0, 0, 100, 111)
	if math.Abs(lat-40.1) > 0.001 {
		t.Errorf("north: lat = %f, want ~40.1", lat)
	}
	if math.Abs(lon-(-74.0)) > 1e-9 {
		t.Errorf("north: lon = %f, want unchanged", lon)
	}

	// Due east at the equator: the same arc length in longitude.
	_, lon = DeadReckon(0, 0, 90, 100, 111)
	if math.Abs(lon-0.1) > 0.001 {
		t.Errorf("east at equator: lon = %f, want ~0.1", lon)
	}

	// Due east at 60N covers twice the longitude (cos 60 = 0.5).
	_, lon = DeadReckon(60, 0, 90, 100, 111)
	if math.Abs(lon-0.2) > 0.001 {
		t.Errorf("east at 60N: lon = %f, want ~0.2", lon)
	}
}

func TestDeadReckonAntimeridianWrap(t *testing.T) {
	_, lon := DeadReckon(0, 179.95, 90, 200, 60) // ~0.108 deg east
	if lon > -179 || lon < -181 {
		t.Errorf("wrapped lon = %f, want just past -180", lon)
	}
}
