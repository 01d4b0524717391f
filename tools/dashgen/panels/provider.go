package panels

import (
	"fmt"

	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// PollDuration returns a timeseries panel showing the p95 fleet poll
// duration.
func PollDuration() *timeseries.PanelBuilder {
	return TimeSeries("Poll Duration (p95)", "95th percentile duration of one fleet poll", 8).
		WithTarget(Query(
			`histogram_quantile(0.95, sum(rate(`+Sel("fleet_poll_duration_seconds_bucket")+`[1h])) by (le))`,
			"p95", "A",
		)).
		Unit("s").
		Thresholds(Steps("green"))
}

// ProviderCalls returns a timeseries panel showing provider API calls by
// outcome with token refreshes.
func ProviderCalls() *timeseries.PanelBuilder {
	return TimeSeries("Provider Calls", "Telematics provider calls per second by outcome", 8).
		WithTarget(Query(`fleet:provider_calls:rate5m`, "{{outcome}}", "A")).
		WithTarget(Query(
			`rate(`+Sel("fleet_provider_token_refreshes_total")+`[5m])`,
			"token refresh", "B",
		)).
		Unit("reqps").
		Legend(Legend("mean", "max")).
		Thresholds(Steps("green"))
}

// ProviderDailyUsage returns a timeseries panel showing provider calls made
// today against the daily quota.
func ProviderDailyUsage() *timeseries.PanelBuilder {
	return TimeSeries("Daily Usage vs Limit",
		fmt.Sprintf("Provider calls since midnight UTC (limit: %d)", ProviderDailyLimit), 8).
		WithTarget(Query(Sel("fleet_provider_daily_usage"), "usage", "A")).
		WithTarget(Query(
			`increase(`+Sel("fleet_poll_device_errors_total")+`[1h])`,
			"device errors / h", "B",
		)).
		Thresholds(Steps("green", At(ProviderDailyLimit*0.8, "yellow"), At(ProviderDailyLimit, "red"))).
		ColorScheme(ThresholdColors())
}
