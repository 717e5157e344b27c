// Package provider defines the adapter contract for upstream surveillance
// networks and the shared HTTP fetch plumbing. Adapters normalize every
// observation at the edge: downstream components only ever see canonical
// units (meters, m/s, Unix seconds) and the canonical 0..19 category.
//
// Adapters never return errors to callers. A failed fetch is logged, reported
// to the governor where appropriate, and surfaces as an empty list.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/governor"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
)

// Bounds is an axis-aligned lat/lon rectangle.
type Bounds struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Validate rejects malformed rectangles. Boxes crossing the antimeridian
// (LonMin > LonMax) are rejected rather than split.
func (b Bounds) Validate() error {
	if b.LatMin < -90 || b.LatMax > 90 || b.LonMin < -180 || b.LonMax > 180 {
		return fmt.Errorf("bounds out of range")
	}
	if b.LatMin > b.LatMax {
		return fmt.Errorf("latMin > latMax")
	}
	if b.LonMin > b.LonMax {
		return fmt.Errorf("lonMin > lonMax")
	}
	return nil
}

// Empty reports whether the rectangle has zero area.
func (b Bounds) Empty() bool {
	return b.LatMin == b.LatMax || b.LonMin == b.LonMax
}

// Contains reports whether the point lies inside the rectangle.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Adapter is one upstream surveillance network.
type Adapter interface {
	Name() string
	Source() model.DataSource
	// FetchAll returns every observation the provider will give us.
	FetchAll(ctx context.Context) []model.AircraftState
	// FetchBounds returns observations inside the rectangle.
	FetchBounds(ctx context.Context, b Bounds) []model.AircraftState
}

// PointFetcher is implemented by adapters whose API is radius-based; the
// CONUS scanner drives these.
type PointFetcher interface {
	FetchPoint(ctx context.Context, lat, lon, radiusNM float64) []model.AircraftState
}

// RouteSink receives route enrichments from adapters whose feeds carry them.
type RouteSink interface {
	PutRoute(r model.Route)
}

// transientError marks a 5xx so the retry loop can distinguish it from 4xx.
type transientError struct{ status int }

func (e *transientError) Error() string { return fmt.Sprintf("upstream status %d", e.status) }

// rateLimitedError carries the Retry-After hint from a 429.
type rateLimitedError struct{ retryAfter time.Duration }

func (e *rateLimitedError) Error() string { return "upstream rate limited" }

const maxFetchAttempts = 3

// Fetch performs one governed GET: it consults the governor, retries 5xx
// with exponential backoff up to a small bound, reports 429 hints, and
// returns the body on 200. Any terminal failure returns (nil, err); adapters
// translate that into an empty result.
func Fetch(ctx context.Context, client *http.Client, gov *governor.Governor, name string, req *http.Request) ([]byte, error) {
	if gov != nil && gov.IsBlocked(name) {
		metrics.ProviderRequests.WithLabelValues(name, "blocked").Inc()
		return nil, fmt.Errorf("provider %s: blocked by governor", name)
	}

	var body []byte
	attempt := 0

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchAttempts-1), ctx)
	err := backoff.Retry(func() error {
		attempt++
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
			return err // network errors are retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.ProviderRequests.WithLabelValues(name, "rate_limited").Inc()
			return backoff.Permanent(&rateLimitedError{retryAfter: parseRetryAfter(resp)})
		case resp.StatusCode >= 500:
			metrics.ProviderRequests.WithLabelValues(name, "upstream_error").Inc()
			return &transientError{status: resp.StatusCode}
		default:
			metrics.ProviderRequests.WithLabelValues(name, "rejected").Inc()
			return backoff.Permanent(fmt.Errorf("provider %s: status %d", name, resp.StatusCode))
		}
	}, bo)

	if err != nil {
		if rl, ok := err.(*rateLimitedError); ok && gov != nil {
			gov.RecordRateLimit(name, rl.retryAfter)
		} else if gov != nil {
			gov.RecordFailure(name)
		}
		logging.Warn("provider fetch failed",
			zap.String("provider", name),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return nil, err
	}

	if gov != nil {
		gov.RecordSuccess(name)
	}
	metrics.ProviderRequests.WithLabelValues(name, "ok").Inc()
	return body, nil
}

// parseRetryAfter reads the Retry-After header in seconds form. Zero means
// no hint.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// NewHTTPClient builds the adapter HTTP client. Upstream calls taking longer
// than the timeout are treated as empty results by the caller.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
