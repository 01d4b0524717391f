package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDHeader = "X-Request-ID"
	roleHeader      = "X-Fleet-Role"
	dealerHeader    = "X-Fleet-Dealer-ID"

	// RequestIDKey is the echo context key holding the request ID.
	RequestIDKey = "request_id"
)

var probePaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
}

func isProbe(path string) bool {
	_, ok := probePaths[path]
	return ok
}

// RequestLog returns Echo middleware that logs one line per request and
// propagates an X-Request-ID, generating one when the caller sent none.
//
// Probes are polled every few seconds, so a probe is logged only on its
// first success and on every failure. Server errors and failing probes log
// at Warn. The line carries the caller's scope headers and the trace ID when
// the request is sampled.
func RequestLog(log *slog.Logger) echo.MiddlewareFunc {
	var probeHealthy sync.Map // path -> struct{}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			reqID := req.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			c.Set(RequestIDKey, reqID)
			c.Response().Header().Set(requestIDHeader, reqID)

			err := next(c)

			path := req.URL.Path
			status := statusOf(c, err)
			failed := status >= http.StatusBadRequest

			if isProbe(path) {
				if failed {
					probeHealthy.Delete(path)
				} else if _, seen := probeHealthy.LoadOrStore(path, struct{}{}); seen {
					return err
				}
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError || (failed && isProbe(path)) {
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", reqID),
			}
			if role := req.Header.Get(roleHeader); role != "" {
				attrs = append(attrs, slog.String("role", role))
			}
			if dealer := req.Header.Get(dealerHeader); dealer != "" {
				attrs = append(attrs, slog.String("dealer_id", dealer))
			}
			if sc := trace.SpanContextFromContext(c.Request().Context()); sc.IsValid() {
				attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
			}

			log.LogAttrs(req.Context(), level, "request", attrs...)
			return err
		}
	}
}
