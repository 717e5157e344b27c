package provider

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestUnitConversions(t *testing.T) {
	// Golden table: provider-native input -> canonical output.
	if got := FeetToM(35000); !almostEqual(got, 10668.0) {
		t.Errorf("35000 ft = %f m, want 10668", got)
	}
	if got := FeetToM(1); !almostEqual(got, 0.3048) {
		t.Errorf("1 ft = %f m, want 0.3048", got)
	}
	if got := FtMinToMS(1000); !almostEqual(got, 5.08) {
		t.Errorf("1000 ft/min = %f m/s, want 5.08", got)
	}
	if got := FtMinToMS(-2000); !almostEqual(got, -10.16) {
		t.Errorf("-2000 ft/min = %f m/s, want -10.16", got)
	}
	if got := KtsToMS(100); !almostEqual(got, 51.4444) {
		t.Errorf("100 kt = %f m/s, want 51.4444", got)
	}
	if got := KtsToMS(450); !almostEqual(got, 231.4998) {
		t.Errorf("450 kt = %f m/s, want 231.4998", got)
	}
}

func TestOnGroundHeuristic(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		alt  *float64
		kts  *float64
		want bool
	}{
		{"low altitude", f(20.0), f(200.0), true},
		{"exactly 100ft", f(30.48), f(200.0), false},
		{"slow", f(1000.0), f(49.9), true},
		{"fast and high", f(10000.0), f(450.0), false},
		{"no data", nil, nil, false},
		{"only low alt", f(5.0), nil, true},
		{"only slow speed", nil, f(10.0), true},
	}
	for _, tt := range tests {
		if got := OnGroundHeuristic(tt.alt, tt.kts); got != tt.want {
			t.Errorf("%s: OnGroundHeuristic = %v, want %v", tt.name, got, tt.want)
		}
	}
}
