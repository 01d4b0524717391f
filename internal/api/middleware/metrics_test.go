package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	ptestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	mw "github.com/donaldgifford/fleet-telemetry/internal/api/middleware"
	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
)

func TestMetrics_RecordsByRouteTemplate(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		route      string
		target     string
		handler    echo.HandlerFunc
		wantStatus string
	}{
		{
			name:   "path params collapse to the template",
			method: http.MethodGet,
			route:  "/api/v1/devices/:device_id/latest",
			target: "/api/v1/devices/KA01EV1001/latest",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"device_id": c.Param("device_id")})
			},
			wantStatus: "200",
		},
		{
			name:   "returned echo error uses its code",
			method: http.MethodPost,
			route:  "/api/v1/ingest/can-data",
			target: "/api/v1/ingest/can-data",
			handler: func(echo.Context) error {
				return echo.NewHTTPError(http.StatusBadRequest, "expected an array")
			},
			wantStatus: "400",
		},
		{
			name:   "plain error counts as 500",
			method: http.MethodPost,
			route:  "/api/v1/poll",
			target: "/api/v1/poll",
			handler: func(echo.Context) error {
				return errors.New("boom")
			},
			wantStatus: "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := metrics.HTTPRequestsTotal.WithLabelValues(tt.method, tt.route, tt.wantStatus)
			before := ptestutil.ToFloat64(counter)

			e := echo.New()
			e.Use(mw.Metrics())
			e.Add(tt.method, tt.route, tt.handler)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, http.NoBody))

			assert.Equal(t, tt.wantStatus, strconv.Itoa(rec.Code))
			assert.InDelta(t, before+1, ptestutil.ToFloat64(counter), 0)
		})
	}
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")
	before := ptestutil.ToFloat64(counter)

	e := echo.New()
	e.Use(mw.Metrics())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wp-login.php", http.NoBody))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(t, before+1, ptestutil.ToFloat64(counter), 0)
}

func TestMetrics_ProbeGauges(t *testing.T) {
	e := echo.New()
	e.Use(mw.Metrics())

	ready := true
	e.GET("/readyz", func(c echo.Context) error {
		if ready {
			return c.NoContent(http.StatusOK)
		}
		return c.NoContent(http.StatusServiceUnavailable)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.InDelta(t, 1, ptestutil.ToFloat64(metrics.ReadyzUp), 0)

	ready = false
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.InDelta(t, 0, ptestutil.ToFloat64(metrics.ReadyzUp), 0)
}
