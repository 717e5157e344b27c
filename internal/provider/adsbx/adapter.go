// Package adsbx adapts the commercial aggregator's v2 REST API. The feed is
// imperial (feet, knots, feet per minute); every value is converted to SI at
// the parse site. The API is point-and-radius shaped, so rectangle queries
// are served by circumscribing the rectangle.
package adsbx

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/governor"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/provider"
)

const (
	defaultBaseURL = "https://adsbexchange-com1.p.rapidapi.com"
	name           = "adsbx"

	maxRadiusNM = 250 // upstream hard limit per request
)

// Adapter fetches from the commercial network.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	gov     *governor.Governor
}

// New creates the adapter.
func New(cfg config.ProviderConfig, gov *governor.Governor) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.Credentials,
		client:  provider.NewHTTPClient(cfg.Timeout),
		gov:     gov,
	}
}

func (a *Adapter) Name() string             { return name }
func (a *Adapter) Source() model.DataSource { return model.SourceCommercialNetwork }

// FetchAll is unsupported: the upstream exposes no global endpoint. Always
// returns nil; the scanner covers wide areas point by point instead.
func (a *Adapter) FetchAll(ctx context.Context) []model.AircraftState {
	return nil
}

// FetchBounds circumscribes the rectangle with a point query.
func (a *Adapter) FetchBounds(ctx context.Context, b provider.Bounds) []model.AircraftState {
	lat := (b.LatMin + b.LatMax) / 2
	lon := (b.LonMin + b.LonMax) / 2
	radius := circumradiusNM(b)
	if radius > maxRadiusNM {
		radius = maxRadiusNM
	}

	out := a.FetchPoint(ctx, lat, lon, radius)

	// The circle overshoots the rectangle; trim before handing off.
	filtered := out[:0]
	for _, st := range out {
		if st.HasPosition() && b.Contains(*st.Latitude, *st.Longitude) {
			filtered = append(filtered, st)
		}
	}
	return filtered
}

// FetchPoint returns states within radiusNM of the point. This is the native
// upstream query shape and what the scanner drives.
func (a *Adapter) FetchPoint(ctx context.Context, lat, lon, radiusNM float64) []model.AircraftState {
	u := fmt.Sprintf("%s/v2/lat/%.4f/lon/%.4f/dist/%d/", a.baseURL, lat, lon, int(math.Ceil(radiusNM)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		logging.Error("adsbx: build request", zap.Error(err))
		return nil
	}
	if a.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", a.apiKey)
	}

	body, err := provider.Fetch(ctx, a.client, a.gov, name, req)
	if err != nil {
		return nil
	}
	return parseAircraft(body)
}

// parseAircraft decodes the "ac" array. Aircraft without a position are
// dropped; altitude "ground" marks grounded aircraft with no altitude.
func parseAircraft(body []byte) []model.AircraftState {
	ac := gjson.GetBytes(body, "ac")
	if !ac.Exists() || !ac.IsArray() {
		return nil
	}
	nowMs := gjson.GetBytes(body, "now").Int()
	if nowMs == 0 {
		nowMs = time.Now().UnixMilli()
	}
	nowSec := nowMs / 1000

	out := make([]model.AircraftState, 0, 64)
	ac.ForEach(func(_, item gjson.Result) bool {
		st := model.AircraftState{
			Icao24:       item.Get("hex").String(),
			Callsign:     item.Get("flight").String(),
			Registration: item.Get("r").String(),
			AircraftType: item.Get("t").String(),
			AircraftDesc: item.Get("desc").String(),
			Squawk:       item.Get("squawk").String(),
			DataSource:   model.SourceCommercialNetwork,
		}

		if v := item.Get("lat"); v.Type == gjson.Number {
			st.Latitude = model.Float(v.Float())
		}
		if v := item.Get("lon"); v.Type == gjson.Number {
			st.Longitude = model.Float(v.Float())
		}

		var altFt, gsKts *float64
		altBaro := item.Get("alt_baro")
		switch {
		case altBaro.Type == gjson.String && altBaro.String() == "ground":
			st.OnGround = true
		case altBaro.Type == gjson.Number:
			ft := altBaro.Float()
			altFt = &ft
			st.BaroAltitude = model.Float(provider.FeetToM(ft))
		}
		if v := item.Get("alt_geom"); v.Type == gjson.Number {
			st.GeoAltitude = model.Float(provider.FeetToM(v.Float()))
		}
		if v := item.Get("gs"); v.Type == gjson.Number {
			kts := v.Float()
			gsKts = &kts
			st.Velocity = model.Float(provider.KtsToMS(kts))
		}
		if v := item.Get("track"); v.Type == gjson.Number {
			st.TrueTrack = model.Float(v.Float())
		}
		if v := item.Get("baro_rate"); v.Type == gjson.Number {
			st.VerticalRate = model.Float(provider.FtMinToMS(v.Float()))
		}

		if !st.OnGround {
			var altM *float64
			if altFt != nil {
				altM = model.Float(provider.FeetToM(*altFt))
			}
			st.OnGround = provider.OnGroundHeuristic(altM, gsKts)
		}

		if em := item.Get("emergency").String(); em != "" && em != "none" {
			st.EmergencyStatus = em
		}
		st.Category = model.CategoryFromEmitter(item.Get("category").String())

		// "seen" is seconds since any message, "seen_pos" since the last
		// position. Both are relative to the response timestamp.
		st.LastContact = nowSec - int64(item.Get("seen").Float())
		if sp := item.Get("seen_pos"); sp.Exists() {
			st.TimePosition = model.Int64(nowSec - int64(sp.Float()))
		}
		if st.TimePosition != nil && st.LastContact < *st.TimePosition {
			st.LastContact = *st.TimePosition
		}

		st.Normalize()
		if err := st.Validate(); err != nil {
			return true
		}
		out = append(out, st)
		return true
	})
	return out
}

// circumradiusNM returns the distance from the rectangle's center to a corner.
func circumradiusNM(b provider.Bounds) float64 {
	lat := (b.LatMin + b.LatMax) / 2
	lon := (b.LonMin + b.LonMax) / 2
	return haversineM(lat, lon, b.LatMax, b.LonMax) / provider.MetersPerNM
}

func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}
