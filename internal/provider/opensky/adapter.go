// Package opensky adapts the free global network's REST API. The upstream
// represents each aircraft as a positional tuple; the index-to-field mapping
// lives here and nowhere else.
package opensky

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
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
	defaultBaseURL = "https://opensky-network.org/api"
	tokenURL       = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
	name           = "opensky"
)

// State tuple indices, per the upstream /states/all response.
const (
	idxIcao24       = 0
	idxCallsign     = 1
	idxTimePosition = 3
	idxLastContact  = 4
	idxLongitude    = 5
	idxLatitude     = 6
	idxBaroAltitude = 7
	idxOnGround     = 8
	idxVelocity     = 9
	idxTrueTrack    = 10
	idxVerticalRate = 11
	idxGeoAltitude  = 13
	idxSquawk       = 14
	idxCategory     = 17
)

// Adapter fetches from the free network. The feed is already SI (meters,
// m/s), so normalization here is identity plus category coercion.
type Adapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	gov          *governor.Governor

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates the adapter. Empty credentials mean anonymous access.
func New(cfg config.ProviderConfig, gov *governor.Governor) *Adapter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		baseURL:      strings.TrimRight(base, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       provider.NewHTTPClient(cfg.Timeout),
		gov:          gov,
	}
}

func (a *Adapter) Name() string             { return name }
func (a *Adapter) Source() model.DataSource { return model.SourceFreeNetwork }

// FetchAll returns the full global state vector.
func (a *Adapter) FetchAll(ctx context.Context) []model.AircraftState {
	return a.get(ctx, a.baseURL+"/states/all")
}

// FetchBounds returns states inside the rectangle.
func (a *Adapter) FetchBounds(ctx context.Context, b provider.Bounds) []model.AircraftState {
	u := fmt.Sprintf("%s/states/all?lamin=%.4f&lomin=%.4f&lamax=%.4f&lomax=%.4f",
		a.baseURL, b.LatMin, b.LonMin, b.LatMax, b.LonMax)
	return a.get(ctx, u)
}

func (a *Adapter) get(ctx context.Context, u string) []model.AircraftState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		logging.Error("opensky: build request", zap.Error(err))
		return nil
	}
	if err := a.setAuth(ctx, req); err != nil {
		logging.Warn("opensky: auth failed, falling back to anonymous", zap.Error(err))
	}

	body, err := provider.Fetch(ctx, a.client, a.gov, name, req)
	if err != nil {
		return nil
	}
	return a.parseStates(body)
}

// parseStates decodes the tuple array into canonical states. Tuples with a
// missing icao24 or position are skipped.
func (a *Adapter) parseStates(body []byte) []model.AircraftState {
	states := gjson.GetBytes(body, "states")
	if !states.Exists() || !states.IsArray() {
		return nil
	}

	now := time.Now().Unix()
	out := make([]model.AircraftState, 0, 256)

	states.ForEach(func(_, tuple gjson.Result) bool {
		fields := tuple.Array()
		if len(fields) <= idxTrueTrack {
			return true
		}

		st := model.AircraftState{
			Icao24:     fields[idxIcao24].String(),
			Callsign:   fields[idxCallsign].String(),
			OnGround:   fields[idxOnGround].Bool(),
			Squawk:     fields[idxSquawk].String(),
			DataSource: model.SourceFreeNetwork,
		}

		if lon := fields[idxLongitude]; lon.Type == gjson.Number {
			st.Longitude = model.Float(lon.Float())
		}
		if lat := fields[idxLatitude]; lat.Type == gjson.Number {
			st.Latitude = model.Float(lat.Float())
		}
		if v := fields[idxBaroAltitude]; v.Type == gjson.Number {
			st.BaroAltitude = model.Float(v.Float())
		}
		if len(fields) > idxGeoAltitude {
			if v := fields[idxGeoAltitude]; v.Type == gjson.Number {
				st.GeoAltitude = model.Float(v.Float())
			}
		}
		if v := fields[idxVelocity]; v.Type == gjson.Number {
			st.Velocity = model.Float(v.Float())
		}
		if v := fields[idxTrueTrack]; v.Type == gjson.Number {
			st.TrueTrack = model.Float(v.Float())
		}
		if len(fields) > idxVerticalRate {
			if v := fields[idxVerticalRate]; v.Type == gjson.Number {
				st.VerticalRate = model.Float(v.Float())
			}
		}
		if v := fields[idxTimePosition]; v.Type == gjson.Number {
			st.TimePosition = model.Int64(v.Int())
		}
		if v := fields[idxLastContact]; v.Type == gjson.Number {
			st.LastContact = v.Int()
		} else if st.TimePosition != nil {
			st.LastContact = *st.TimePosition
		} else {
			st.LastContact = now
		}
		if len(fields) > idxCategory {
			if v := fields[idxCategory]; v.Type == gjson.Number {
				st.Category = model.Int(int(v.Int()))
			}
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

// setAuth attaches a bearer token using the client-credentials flow, caching
// the token until shortly before expiry.
func (a *Adapter) setAuth(ctx context.Context, req *http.Request) error {
	if a.clientID == "" {
		return nil // anonymous
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Add(30*time.Second).Before(a.tokenExpiry) {
		req.Header.Set("Authorization", "Bearer "+a.accessToken)
		return nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
	}
	tokenReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(tokenReq)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	token := gjson.GetBytes(raw, "access_token").String()
	expiresIn := gjson.GetBytes(raw, "expires_in").Int()
	if token == "" {
		return fmt.Errorf("token endpoint returned no access_token")
	}

	a.accessToken = token
	a.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	return nil
}
