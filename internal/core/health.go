package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds how long the aggregate health check waits for
// its probes before reporting the stragglers as unhealthy.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks the health of one dependency.
type HealthProbe interface {
	// Name returns the component name reported in the health response.
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// HandleHealth runs all registered probes concurrently and reports aggregate
// health. Any failing or timed-out probe makes the overall response 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	type probeResult struct {
		name string
		err  error
	}

	results := make(chan probeResult, len(s.HealthProbes))
	var wg sync.WaitGroup
	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results <- probeResult{name: p.Name(), err: fmt.Errorf("probe panicked: %v", rec)}
				}
			}()
			results <- probeResult{name: p.Name(), err: p.Check(ctx)}
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	components := make(map[string]string, len(s.HealthProbes))
	healthy := true

	collect := func(res probeResult) {
		if res.err != nil {
			components[res.name] = res.err.Error()
			healthy = false
		} else {
			components[res.name] = "ok"
		}
	}

	select {
	case <-done:
		close(results)
		for res := range results {
			collect(res)
		}
	case <-ctx.Done():
		for {
			select {
			case res := <-results:
				collect(res)
				continue
			default:
			}
			break
		}
		for _, probe := range s.HealthProbes {
			if _, ok := components[probe.Name()]; !ok {
				components[probe.Name()] = "timed out"
				healthy = false
			}
		}
	}

	resp := healthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	JSON(w, r, status, resp)
}
