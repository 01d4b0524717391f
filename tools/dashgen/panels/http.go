package panels

import (
	"fmt"

	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// RequestRate returns a timeseries panel showing the HTTP request rate.
func RequestRate() *timeseries.PanelBuilder {
	return TimeSeries("Request Rate", "HTTP requests per second", TSWidth).
		WithTarget(Query(`fleet:http_requests:rate5m`, "req/s", "A")).
		Unit("reqps").
		Legend(Legend("mean", "max")).
		Thresholds(Steps("green"))
}

// LatencyPercentiles returns a timeseries panel showing p50, p95, and p99
// HTTP request latencies.
func LatencyPercentiles() *timeseries.PanelBuilder {
	q := func(p float64) string {
		return fmt.Sprintf(`histogram_quantile(%.2f, sum(rate(%s[5m])) by (le))`,
			p, Sel("fleet_http_request_duration_seconds_bucket"))
	}
	return TimeSeries("Latency Percentiles", "HTTP request duration percentiles", TSWidth).
		WithTarget(Query(q(0.50), "p50", "A")).
		WithTarget(Query(q(0.95), "p95", "B")).
		WithTarget(Query(q(0.99), "p99", "C")).
		Unit("s").
		Legend(Legend("mean", "max")).
		Thresholds(Steps("green"))
}

// ErrorRate returns a timeseries panel showing the HTTP 5xx error rate
// as a percentage.
func ErrorRate() *timeseries.PanelBuilder {
	return TimeSeries("Error Rate %", "HTTP 5xx error rate as percentage of total requests", TSWidth).
		WithTarget(Query(`fleet:http_errors:rate5m / fleet:http_requests:rate5m * 100`, "error %", "A")).
		WithTarget(Query(`sum(increase(`+Sel("fleet_http_panics_total")+`[5m]))`, "panics", "B")).
		Unit("percent").
		Thresholds(Steps("green", At(1, "yellow"), At(5, "red"))).
		ColorScheme(ThresholdColors())
}
