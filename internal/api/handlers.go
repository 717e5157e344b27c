package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	apierrors "github.com/skytrack/skytrack/internal/errors"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/provider"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// handleArea answers GET /area/:latmin/:lonmin/:latmax/:lonmax.
func (s *Server) handleArea(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var vals [4]float64
	for i, name := range []string{"latmin", "lonmin", "latmax", "lonmax"} {
		v, err := strconv.ParseFloat(ps.ByName(name), 64)
		if err != nil {
			apierrors.ErrBadRequest.WithDetails("coordinates must be decimal degrees").WriteJSON(w)
			return
		}
		vals[i] = v
	}
	b := provider.Bounds{LatMin: vals[0], LonMin: vals[1], LatMax: vals[2], LonMax: vals[3]}
	if err := b.Validate(); err != nil {
		apierrors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	aircraft, err := s.planner.AircraftInBounds(r.Context(), b)
	if err != nil {
		logging.Error("api: bounds query", zap.Error(err))
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, aircraft)
}

// handlePlane answers GET /planes/:identifier with one enriched aircraft.
func (s *Server) handlePlane(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identifier := strings.TrimSpace(ps.ByName("identifier"))
	if identifier == "" {
		apierrors.ErrBadRequest.WriteJSON(w)
		return
	}
	ac, err := s.planner.AircraftByIdentifier(r.Context(), normalizeIdentifier(identifier))
	if err == store.ErrNotFound {
		apierrors.ErrNotFound.WriteJSON(w)
		return
	}
	if err != nil {
		logging.Error("api: plane lookup", zap.String("identifier", identifier), zap.Error(err))
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, ac)
}

// normalizeIdentifier lowercases hex addresses and uppercases callsigns so
// lookups match stored keys.
func normalizeIdentifier(identifier string) string {
	lower := strings.ToLower(identifier)
	if len(lower) == 6 && isHex(lower) {
		return lower
	}
	return strings.ToUpper(identifier)
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

type feederPush struct {
	States []model.AircraftState `json:"states"`
}

type feederResult struct {
	Queued   int `json:"queued"`
	Rejected int `json:"rejected"`
}

// handleFeederPush accepts authenticated local receiver batches. Feeder data
// outranks every network source.
func (s *Server) handleFeederPush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	feederID, ok := s.authenticateFeeder(r)
	if !ok {
		apierrors.ErrUnauthorized.WriteJSON(w)
		return
	}

	var push feederPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		apierrors.ErrBadRequest.WithDetails("body must be {\"states\": [...]}").WriteJSON(w)
		return
	}
	if len(push.States) == 0 {
		apierrors.ErrBadRequest.WithDetails("no states in push").WriteJSON(w)
		return
	}

	var res feederResult
	for _, st := range push.States {
		st.DataSource = model.SourceFeeder
		st.SourcePriority = model.SourceFeeder.Priority()
		st.Normalize()
		if err := st.Validate(); err != nil {
			res.Rejected++
			continue
		}
		err := s.queue.Enqueue(r.Context(), model.NewQueueMessage(st, false), false)
		if err != nil {
			// Backpressure or a dead broker; either way the feeder should
			// back off and retry the batch.
			if err != queue.ErrBackpressure {
				logging.Error("api: feeder enqueue", zap.Error(err))
			}
			apierrors.ErrServiceUnavailable.WriteJSON(w)
			return
		}
		res.Queued++
	}
	logging.Debug("feeder push accepted",
		zap.String("feeder", feederID),
		zap.Int("queued", res.Queued),
		zap.Int("rejected", res.Rejected))
	writeJSON(w, http.StatusAccepted, res)
}

// authenticateFeeder resolves the opaque bearer token to a feeder identity.
func (s *Server) authenticateFeeder(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	id, ok := s.feederTokens[token]
	return id, ok
}

// handleHistory answers GET /history/:icao24?from&to with flight-path
// GeoJSON.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	icao24 := strings.ToLower(strings.TrimSpace(ps.ByName("icao24")))
	if len(icao24) != 6 || !isHex(icao24) {
		apierrors.ErrBadRequest.WithDetails("icao24 must be 6 hex chars").WriteJSON(w)
		return
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierrors.ErrBadRequest.WithDetails("from must be RFC 3339").WriteJSON(w)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierrors.ErrBadRequest.WithDetails("to must be RFC 3339").WriteJSON(w)
			return
		}
		to = t
	}

	rows, err := s.history.History(r.Context(), icao24, from, to)
	if err != nil {
		logging.Error("api: history query", zap.String("icao24", icao24), zap.Error(err))
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, historyFeature(icao24, rows))
}

// historyFeature renders snapshots as one GeoJSON LineString, oldest first.
// Coordinates are [lon, lat, altitude_m].
func historyFeature(icao24 string, rows []model.AircraftState) map[string]any {
	coords := make([][]float64, 0, len(rows))
	var first, last int64
	for _, st := range rows {
		if !st.HasPosition() {
			continue
		}
		alt := 0.0
		if st.BaroAltitude != nil {
			alt = *st.BaroAltitude
		}
		coords = append(coords, []float64{*st.Longitude, *st.Latitude, alt})
		if first == 0 {
			first = st.LastContact
		}
		last = st.LastContact
	}
	return map[string]any{
		"type": "Feature",
		"properties": map[string]any{
			"icao24":        icao24,
			"points":        len(coords),
			"first_contact": first,
			"last_contact":  last,
		},
		"geometry": map[string]any{
			"type":        "LineString",
			"coordinates": coords,
		},
	}
}
