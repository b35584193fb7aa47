package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds the whole probe run.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency the webhook needs to do its job.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently and answers 200 when all pass,
// 503 otherwise. A probe that has not returned by the deadline counts as
// failed.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	// Each goroutine owns one slot; results are only read after done closes.
	errs := make([]error, len(probes))
	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() (err error) {
			defer func() {
				if rvr := recover(); rvr != nil {
					errs[i] = fmt.Errorf("probe panicked: %v", rvr)
				}
			}()
			errs[i] = probe.Check(ctx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timedOut := false
	select {
	case <-done:
	case <-ctx.Done():
		timedOut = true
	}

	components := make(map[string]componentStatus, len(probes))
	healthy := true
	for i, probe := range probes {
		var status componentStatus
		switch {
		case timedOut:
			status = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case errs[i] != nil:
			status = componentStatus{Status: "unhealthy", Message: errs[i].Error()}
		default:
			status = componentStatus{Status: "healthy"}
		}
		if status.Status != "healthy" {
			healthy = false
		}
		components[probe.Name()] = status
	}

	if healthy {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Components: components})
		return
	}
	JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Components: components})
}
