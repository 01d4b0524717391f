// Package middleware provides Echo middleware for the fleet-telemetry API.
package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
)

// unmatchedRoute labels requests that hit no registered route, keeping the
// path label bounded under scanning traffic.
const unmatchedRoute = "unmatched"

var probeGauges = map[string]prometheus.Gauge{
	"/healthz": metrics.HealthzUp,
	"/readyz":  metrics.ReadyzUp,
}

// Metrics returns Echo middleware that records request duration and count by
// route template. Probes only drive their up gauges and scrapes of /metrics
// are not recorded.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			status := statusOf(c, err)
			route := routeOf(c, err)

			if g, ok := probeGauges[route]; ok {
				g.Set(boolToFloat(status < http.StatusBadRequest))
				return err
			}

			labels := []string{c.Request().Method, route, strconv.Itoa(status)}
			metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
			return err
		}
	}
}

func routeOf(c echo.Context, err error) string {
	if c.Path() == "" || errors.Is(err, echo.ErrNotFound) {
		return unmatchedRoute
	}
	return c.Path()
}

// statusOf reports the status the client will see. An error returned up
// the chain is written by echo's error handler after middleware unwinds, so
// the recorded response status is not yet final.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
