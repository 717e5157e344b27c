// Package webhook implements signed, retried event delivery to subscriber
// endpoints: subscription management, the per-message delivery pipeline with
// its rate limit and circuit breaker, and the HMAC request signature.
package webhook

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Subscription statuses.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusDisabled = "disabled"
)

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

const minSecretBytes = 32

// Subscription is one registered webhook endpoint.
type Subscription struct {
	ID                 string    `json:"id"`
	SubscriberID       string    `json:"subscriber_id"`
	CallbackURL        string    `json:"callback_url"`
	EventTypes         []string  `json:"event_types"`
	SigningSecret      string    `json:"-"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	MaxAttempts        int       `json:"delivery_max_attempts"`
	BackoffMs          int       `json:"delivery_backoff_ms"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// Validate enforces the registration invariants. enforceHTTPS is relaxed in
// dev so localhost receivers work without certificates.
func (s *Subscription) Validate(enforceHTTPS bool) error {
	u, err := url.Parse(s.CallbackURL)
	if err != nil {
		return fmt.Errorf("webhook: invalid callback_url: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if enforceHTTPS && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
			return fmt.Errorf("webhook: callback_url must use https")
		}
	default:
		return fmt.Errorf("webhook: unsupported callback scheme %q", u.Scheme)
	}
	if len(s.SigningSecret) < minSecretBytes {
		return fmt.Errorf("webhook: signing secret must be at least %d bytes", minSecretBytes)
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("webhook: at least one event type required")
	}
	return nil
}

// WantsEvent reports whether the subscription listens for eventType.
func (s *Subscription) WantsEvent(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// Delivery tracks one event on its way to one subscription.
type Delivery struct {
	DeliveryID     string    `json:"delivery_id"`
	EventID        string    `json:"event_id"`
	SubscriptionID string    `json:"subscription_id"`
	EventType      string    `json:"event_type"`
	Body           []byte    `json:"body"` // serialized event, signed as-is
	Attempt        int       `json:"attempt"`
	NextAttemptAt  time.Time `json:"next_attempt_at"`
	Status         string    `json:"status"`
	ResponseStatus int       `json:"response_status,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// NewDelivery creates a pending delivery for one subscription.
func NewDelivery(eventID, subscriptionID, eventType string, body []byte) Delivery {
	return Delivery{
		DeliveryID:     uuid.NewString(),
		EventID:        eventID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Body:           body,
		Status:         DeliveryPending,
	}
}
