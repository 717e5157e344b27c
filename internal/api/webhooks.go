package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	apierrors "github.com/skytrack/skytrack/internal/errors"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/webhook"
)

type subscriptionRequest struct {
	SubscriberID       string   `json:"subscriber_id"`
	CallbackURL        string   `json:"callback_url"`
	EventTypes         []string `json:"event_types"`
	SigningSecret      string   `json:"signing_secret"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute,omitempty"`
	MaxAttempts        int      `json:"delivery_max_attempts,omitempty"`
	BackoffMs          int      `json:"delivery_backoff_ms,omitempty"`
}

// handleSubscriptionCreate registers a webhook endpoint.
func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ErrBadRequest.WithDetails("malformed subscription body").WriteJSON(w)
		return
	}
	sub := &webhook.Subscription{
		ID:                 uuid.NewString(),
		SubscriberID:       req.SubscriberID,
		CallbackURL:        req.CallbackURL,
		EventTypes:         req.EventTypes,
		SigningSecret:      req.SigningSecret,
		RateLimitPerMinute: req.RateLimitPerMinute,
		MaxAttempts:        req.MaxAttempts,
		BackoffMs:          req.BackoffMs,
		Status:             webhook.StatusActive,
	}
	if err := sub.Validate(s.enforceHTTPS); err != nil {
		apierrors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if err := s.subs.Create(r.Context(), sub); err != nil {
		logging.Error("api: create subscription", zap.Error(err))
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleSubscriptionList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	subs, err := s.subs.List(r.Context())
	if err != nil {
		logging.Error("api: list subscriptions", zap.Error(err))
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sub, err := s.subs.Get(r.Context(), ps.ByName("id"))
	if err == webhook.ErrNotFound {
		apierrors.ErrNotFound.WriteJSON(w)
		return
	}
	if err != nil {
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type subscriptionPatch struct {
	Status      *string  `json:"status,omitempty"`
	CallbackURL *string  `json:"callback_url,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// handleSubscriptionUpdate applies a partial update: status transitions and
// endpoint changes, never the signing secret.
func (s *Server) handleSubscriptionUpdate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sub, err := s.subs.Get(r.Context(), ps.ByName("id"))
	if err == webhook.ErrNotFound {
		apierrors.ErrNotFound.WriteJSON(w)
		return
	}
	if err != nil {
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}

	var patch subscriptionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierrors.ErrBadRequest.WithDetails("malformed patch body").WriteJSON(w)
		return
	}
	if patch.Status != nil {
		switch strings.ToLower(*patch.Status) {
		case webhook.StatusActive, webhook.StatusPaused, webhook.StatusDisabled:
			sub.Status = strings.ToLower(*patch.Status)
		default:
			apierrors.ErrBadRequest.WithDetails("status must be active, paused or disabled").WriteJSON(w)
			return
		}
	}
	if patch.CallbackURL != nil {
		sub.CallbackURL = *patch.CallbackURL
	}
	if len(patch.EventTypes) > 0 {
		sub.EventTypes = patch.EventTypes
	}
	if err := sub.Validate(s.enforceHTTPS); err != nil {
		apierrors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	if err := s.subs.Update(r.Context(), sub); err != nil {
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.subs.Delete(r.Context(), ps.ByName("id"))
	if err == webhook.ErrNotFound {
		apierrors.ErrNotFound.WriteJSON(w)
		return
	}
	if err != nil {
		apierrors.ErrInternalServer.WriteJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
