package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	e := echo.New()
	e.Use(Tracing(tp))
	e.GET("/api/v1/devices/:device_id/latest", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.POST("/api/v1/poll", func(c echo.Context) error {
		return c.NoContent(http.StatusInternalServerError)
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/devices/D1/latest"},
		{http.MethodPost, "/api/v1/poll"},
		{http.MethodGet, "/healthz"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, http.NoBody))
	}

	spans := rec.Ended()
	require.Len(t, spans, 2, "probes are not traced")
	assert.Equal(t, "GET /api/v1/devices/:device_id/latest", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "POST /api/v1/poll", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
