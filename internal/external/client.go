// Package external is the boundary between the webhook and the vendor APIs it
// calls (Stripe, Google Sheets, CloudWatch). Every outbound HTTP call goes
// through BreakerTransport, which adds correlation headers and a circuit
// breaker. Calls are never retried here; Stripe's own webhook redelivery is
// the recovery path.
package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"spectatorsheet/internal/types"
)

// BreakerSettings tunes the circuit breaker of one upstream.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe request.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the settings used for Stripe and Google.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// upstreamStatusError marks a response the breaker should count as a failure.
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// BreakerTransport is an http.RoundTripper that stamps User-Agent and
// X-Request-Id on each request and runs it through a gobreaker circuit
// breaker. 5xx and 429 responses count as failures but are still returned
// to the caller so the vendor SDK can surface its own error body.
type BreakerTransport struct {
	base      http.RoundTripper
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	name      string
	userAgent string
}

// NewBreakerTransport wraps base (http.DefaultTransport when nil).
func NewBreakerTransport(name, userAgent string, base http.RoundTripper, settings BreakerSettings) *BreakerTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerTransport{
		base:      base,
		breaker:   cb,
		name:      name,
		userAgent: userAgent,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if reqID := types.GetRequestID(req.Context()); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		r, doErr := t.base.RoundTrip(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, &upstreamStatusError{status: r.StatusCode}
		}
		return r, nil
	})

	var statusErr *upstreamStatusError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &statusErr) && resp != nil:
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s circuit breaker is open", t.name),
			err,
		)
	default:
		return nil, err
	}
}

// State reports the breaker state, for health probes and tests.
func (t *BreakerTransport) State() gobreaker.State {
	return t.breaker.State()
}

// NewHTTPClient builds an *http.Client for one upstream with a per-call
// timeout and its own breaker.
func NewHTTPClient(name, userAgent string, timeout time.Duration, base http.RoundTripper) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewBreakerTransport(name, userAgent, base, DefaultBreakerSettings()),
	}
}

// Name implements core.HealthProbe.
func (t *BreakerTransport) Name() string {
	return t.name + "_circuit"
}

// Check implements core.HealthProbe: an open breaker is unhealthy.
func (t *BreakerTransport) Check(_ context.Context) error {
	if state := t.State(); state == gobreaker.StateOpen {
		return fmt.Errorf("%s circuit breaker is %s", t.name, state)
	}
	return nil
}
