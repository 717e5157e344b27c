// Package metrics exposes Prometheus collectors for the data plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skytrack"

var (
	// Ingestion pipeline
	StatesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "states_total",
			Help:      "Aircraft states accepted by the ingestion workers",
		},
		[]string{"source"},
	)

	StatesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Aircraft states dropped by validation",
		},
		[]string{"source", "reason"},
	)

	IngestRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "retries_total",
			Help:      "Messages rescheduled after a transient store failure",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages waiting in the ready lane",
		},
		[]string{"queue"},
	)

	DeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dead_letter_total",
			Help:      "Messages moved to a dead-letter lane",
		},
		[]string{"queue"},
	)

	// Providers
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream provider requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderBlocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "blocked",
			Help:      "Whether the governor currently blocks a provider (0/1)",
		},
		[]string{"provider"},
	)

	// Live-state cache
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livecache",
			Name:      "hits_total",
			Help:      "Bounds scans answered from the live-state cache",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livecache",
			Name:      "misses_total",
			Help:      "Bounds scans that fell back to the store",
		},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livecache",
			Name:      "evictions_total",
			Help:      "Entries evicted by LRU or TTL",
		},
	)

	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "livecache",
			Name:      "size",
			Help:      "Entries currently held in the live-state cache",
		},
	)

	// Webhooks
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	BreakerTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "breaker_trips_total",
			Help:      "Subscriber circuit breakers tripped",
		},
	)

	// WebSocket broadcast
	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		},
	)

	WSBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "batches_total",
			Help:      "Broadcast batches flushed to rooms",
		},
	)

	// HTTP API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		StatesIngested, StatesRejected, IngestRetries,
		QueueDepth, DeadLettered,
		ProviderRequests, ProviderBlocked,
		CacheHits, CacheMisses, CacheEvictions, CacheSize,
		WebhookDeliveries, BreakerTrips,
		WSClients, WSBatches,
		HTTPRequests, HTTPDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
