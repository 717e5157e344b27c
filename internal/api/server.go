// Package api is the HTTP surface: bounds and aircraft queries, the feeder
// push endpoint, history export, webhook subscription management and the
// WebSocket upgrade.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/planner"
	"github.com/skytrack/skytrack/internal/queue"
	"github.com/skytrack/skytrack/internal/store"
	"github.com/skytrack/skytrack/internal/webhook"
	"github.com/skytrack/skytrack/internal/ws"
)

// Server owns the router and the handler dependencies.
type Server struct {
	router       *httprouter.Router
	planner      *planner.Planner
	history      store.HistoryStore
	queue        queue.Queue[model.QueueMessage]
	subs         webhook.SubscriptionStore
	hub          *ws.Hub
	feederTokens map[string]string
	enforceHTTPS bool
	timeout      time.Duration
}

// New builds the server. history, subs and hub may be nil; their routes then
// answer 404.
func New(p *planner.Planner, history store.HistoryStore, q queue.Queue[model.QueueMessage],
	subs webhook.SubscriptionStore, hub *ws.Hub, cfg *config.Config) *Server {
	s := &Server{
		router:       httprouter.New(),
		planner:      p,
		history:      history,
		queue:        q,
		subs:         subs,
		hub:          hub,
		feederTokens: cfg.Feeders.Tokens,
		enforceHTTPS: cfg.Webhooks.HTTPSRequired(),
		timeout:      cfg.Server.RequestTimeout,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle(http.MethodGet, "/area/:latmin/:lonmin/:latmax/:lonmax", "area", s.handleArea)
	s.handle(http.MethodGet, "/planes/:identifier", "planes", s.handlePlane)
	s.handle(http.MethodPost, "/feeder/aircraft", "feeder", s.handleFeederPush)
	if s.history != nil {
		s.handle(http.MethodGet, "/history/:icao24", "history", s.handleHistory)
	}
	if s.subs != nil {
		s.handle(http.MethodPost, "/webhooks/subscriptions", "webhook_create", s.handleSubscriptionCreate)
		s.handle(http.MethodGet, "/webhooks/subscriptions", "webhook_list", s.handleSubscriptionList)
		s.handle(http.MethodGet, "/webhooks/subscriptions/:id", "webhook_get", s.handleSubscriptionGet)
		s.handle(http.MethodPatch, "/webhooks/subscriptions/:id", "webhook_update", s.handleSubscriptionUpdate)
		s.handle(http.MethodDelete, "/webhooks/subscriptions/:id", "webhook_delete", s.handleSubscriptionDelete)
	}
	if s.hub != nil {
		// The upgrade hijacks the connection; no timeout or status wrapper.
		s.router.Handler(http.MethodGet, "/ws", s.hub)
	}
	s.router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealthz)
	s.router.Handler(http.MethodGet, "/metrics", metrics.Handler())
}

// handle registers a route with metrics and the request deadline applied.
func (s *Server) handle(method, path, name string, h httprouter.Handle) {
	s.router.Handle(method, path, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		if s.timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, ps)
		metrics.HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		logging.Debug("http request",
			zap.String("route", name),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
