package panels

import (
	"fmt"

	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/gauge"
	"github.com/grafana/grafana-foundation-sdk/go/stat"
)

// upStat shows a 0/1 probe gauge as a red or green tile.
func upStat(title, desc, metric string) *stat.PanelBuilder {
	return Stat(title, desc, Sel(metric), StatWidth, StatHeight).
		Thresholds(Steps("red", At(1, "green"))).
		ColorMode(common.BigValueColorModeBackground).
		GraphMode(common.BigValueGraphModeNone).
		TextMode(common.BigValueTextModeValue)
}

// HealthzStat is the liveness probe result.
func HealthzStat() *stat.PanelBuilder {
	return upStat("Healthz", "Liveness probe (1 = ok, 0 = failing)", "fleet_healthz_up")
}

// ReadyzStat is the readiness probe result.
func ReadyzStat() *stat.PanelBuilder {
	return upStat("Readyz", "Database and cache reachability (1 = ready, 0 = not ready)", "fleet_readyz_up")
}

// ProviderQuotaGauge shows today's provider calls as a share of the daily
// quota. Polling stops at 100%.
func ProviderQuotaGauge() *gauge.PanelBuilder {
	return gauge.NewPanelBuilder().
		Title("Provider Quota %").
		Description("Telematics provider calls since midnight UTC against the daily quota").
		Datasource(Datasource()).
		Height(StatHeight).
		Span(StatWidth).
		WithTarget(Query(
			fmt.Sprintf("%s / %d * 100", Sel("fleet_provider_daily_usage"), ProviderDailyLimit), "", "A",
		)).
		Unit("percent").
		Min(0).
		Max(100).
		Thresholds(Steps("green", At(80, "yellow"), At(95, "red"))).
		ColorScheme(ThresholdColors())
}

// UptimeStat is seconds since the process started.
func UptimeStat() *stat.PanelBuilder {
	return Stat("Uptime", "Time since process start", `time() - `+Sel("process_start_time_seconds"), StatWidth, StatHeight).
		Unit("s").
		Thresholds(Steps("green")).
		GraphMode(common.BigValueGraphModeNone)
}
