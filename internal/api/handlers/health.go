package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
)

// defaultCheckTimeout bounds each readiness ping.
const defaultCheckTimeout = 2 * time.Second

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps    map[string]Pinger
	timeout time.Duration
}

// ReadinessResponse reports each dependency as "ok" or its error text.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler creates a HealthHandler. The store is always checked
// under the name "database"; nil entries in extra are skipped.
func NewHealthHandler(store Pinger, extra map[string]Pinger) *HealthHandler {
	deps := map[string]Pinger{"database": store}
	for name, p := range extra {
		if p != nil {
			deps[name] = p
		}
	}
	return &HealthHandler{deps: deps, timeout: defaultCheckTimeout}
}

// WithCheckTimeout overrides the per-dependency ping timeout.
func (h *HealthHandler) WithCheckTimeout(d time.Duration) *HealthHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// Healthz always answers 200 while the process can serve requests.
func (*HealthHandler) Healthz(c echo.Context) error {
	metrics.HealthzUp.Set(1)
	return c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Readyz pings every dependency concurrently. It answers 200 when all
// respond within the timeout and 503 with the per-dependency results
// otherwise.
func (h *HealthHandler) Readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]string, len(h.deps))
		ready  = true
	)
	for name, p := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := p.Ping(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[name] = result
			if result != "ok" {
				ready = false
			}
		}()
	}
	wg.Wait()

	if !ready {
		metrics.ReadyzUp.Set(0)
		return c.JSON(http.StatusServiceUnavailable, ReadinessResponse{Status: "unavailable", Checks: checks})
	}
	metrics.ReadyzUp.Set(1)
	return c.JSON(http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks})
}
