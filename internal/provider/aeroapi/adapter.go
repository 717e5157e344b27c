// Package aeroapi adapts the paid flight-data API. Positions from this feed
// are the least trusted source, but it is the only provider that carries
// schedule and route information, which the adapter pushes to a RouteSink as
// a side channel.
//
// Quirks handled here: altitude comes in hundreds of feet, speed in knots,
// position timestamps as RFC 3339 strings.
package aeroapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
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
	defaultBaseURL = "https://aeroapi.flightaware.com/aeroapi"
	name           = "aeroapi"
)

// Adapter fetches from the paid API.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	gov     *governor.Governor
	routes  provider.RouteSink
}

// New creates the adapter. routes may be nil when route enrichment is off.
func New(cfg config.ProviderConfig, gov *governor.Governor, routes provider.RouteSink) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.Credentials,
		client:  provider.NewHTTPClient(cfg.Timeout),
		gov:     gov,
		routes:  routes,
	}
}

func (a *Adapter) Name() string             { return name }
func (a *Adapter) Source() model.DataSource { return model.SourceAeroAPI }

// FetchAll is unsupported: per-query billing makes a global pull pointless.
func (a *Adapter) FetchAll(ctx context.Context) []model.AircraftState {
	return nil
}

// FetchBounds searches for airborne flights inside the rectangle.
func (a *Adapter) FetchBounds(ctx context.Context, b provider.Bounds) []model.AircraftState {
	q := fmt.Sprintf("-latlong \"%.4f %.4f %.4f %.4f\"", b.LatMin, b.LonMin, b.LatMax, b.LonMax)
	u := a.baseURL + "/flights/search?query=" + url.QueryEscape(q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		logging.Error("aeroapi: build request", zap.Error(err))
		return nil
	}
	req.Header.Set("x-apikey", a.apiKey)

	body, err := provider.Fetch(ctx, a.client, a.gov, name, req)
	if err != nil {
		return nil
	}
	return a.parseFlights(body)
}

// parseFlights decodes the search response. Every flight yields a route for
// the sink; flights that also carry a transponder hex yield a position.
func (a *Adapter) parseFlights(body []byte) []model.AircraftState {
	flights := gjson.GetBytes(body, "flights")
	if !flights.Exists() || !flights.IsArray() {
		return nil
	}

	out := make([]model.AircraftState, 0, 32)
	flights.ForEach(func(_, f gjson.Result) bool {
		if a.routes != nil {
			if r, ok := parseRoute(f); ok {
				a.routes.PutRoute(r)
			}
		}

		hex := f.Get("hex").String()
		if hex == "" {
			return true
		}

		st := model.AircraftState{
			Icao24:       hex,
			Callsign:     f.Get("ident").String(),
			Registration: f.Get("registration").String(),
			AircraftType: f.Get("aircraft_type").String(),
			DataSource:   model.SourceAeroAPI,
		}

		pos := f.Get("last_position")
		if !pos.Exists() {
			return true
		}
		if v := pos.Get("latitude"); v.Type == gjson.Number {
			st.Latitude = model.Float(v.Float())
		}
		if v := pos.Get("longitude"); v.Type == gjson.Number {
			st.Longitude = model.Float(v.Float())
		}
		if v := pos.Get("altitude"); v.Type == gjson.Number {
			st.BaroAltitude = model.Float(provider.FeetToM(v.Float() * 100))
		}
		if v := pos.Get("groundspeed"); v.Type == gjson.Number {
			st.Velocity = model.Float(provider.KtsToMS(v.Float()))
		}
		if v := pos.Get("heading"); v.Type == gjson.Number {
			st.TrueTrack = model.Float(v.Float())
		}
		if ts, err := time.Parse(time.RFC3339, pos.Get("timestamp").String()); err == nil {
			st.LastContact = ts.Unix()
			st.TimePosition = model.Int64(ts.Unix())
		}
		st.OnGround = pos.Get("update_type").String() == "X" // surface position

		st.Normalize()
		if err := st.Validate(); err != nil {
			return true
		}
		out = append(out, st)
		return true
	})
	return out
}

// parseRoute builds a route annotation from one flight object. A route needs
// at least an identifier and one endpoint airport.
func parseRoute(f gjson.Result) (model.Route, bool) {
	r := model.Route{
		Callsign:     strings.ToUpper(strings.TrimSpace(f.Get("ident").String())),
		Icao24:       strings.ToLower(f.Get("hex").String()),
		AircraftType: f.Get("aircraft_type").String(),
		FlightStatus: f.Get("status").String(),
	}
	if v := f.Get("progress_percent"); v.Type == gjson.Number {
		r.ProgressPercent = v.Float()
	}

	r.Departure = parseAirport(f.Get("origin"))
	r.Arrival = parseAirport(f.Get("destination"))

	r.ScheduledDeparture = parseTime(f.Get("scheduled_off"))
	r.ActualDeparture = parseTime(f.Get("actual_off"))
	r.ScheduledArrival = parseTime(f.Get("scheduled_on"))
	r.ActualArrival = parseTime(f.Get("actual_on"))

	if r.Key() == "" {
		return model.Route{}, false
	}
	if r.Departure == nil && r.Arrival == nil {
		return model.Route{}, false
	}
	return r, true
}

func parseAirport(v gjson.Result) *model.Airport {
	if !v.Exists() || v.Type != gjson.JSON {
		return nil
	}
	ap := &model.Airport{
		ICAO: v.Get("code_icao").String(),
		IATA: v.Get("code_iata").String(),
		Name: v.Get("name").String(),
	}
	if ap.ICAO == "" && ap.IATA == "" {
		return nil
	}
	if lat := v.Get("latitude"); lat.Type == gjson.Number {
		ap.Lat = model.Float(lat.Float())
	}
	if lng := v.Get("longitude"); lng.Type == gjson.Number {
		ap.Lng = model.Float(lng.Float())
	}
	return ap
}

func parseTime(v gjson.Result) *time.Time {
	if v.Type != gjson.String {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return nil
	}
	return &t
}
