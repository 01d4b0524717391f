package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/stat"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// AlertsCreated returns a timeseries panel showing battery alerts raised
// per hour by type and severity, with cooldown suppressions.
func AlertsCreated() *timeseries.PanelBuilder {
	return TimeSeries("Battery Alerts / h", "Alerts raised per hour by type and severity", TSWidth).
		WithTarget(Query(
			`sum by (alert_type, severity) (increase(`+Sel("fleet_alerts_created_total")+`[1h]))`,
			"{{alert_type}} ({{severity}})", "A",
		)).
		WithTarget(Query(
			`increase(`+Sel("fleet_alerts_suppressed_total")+`[1h])`,
			"suppressed by cooldown", "B",
		)).
		Legend(Legend("sum", "max")).
		Thresholds(Steps("green"))
}

// NotificationFailures counts failed webhook deliveries over the last day.
func NotificationFailures() *stat.PanelBuilder {
	return Stat("Notification Failures (24h)", "Failed Discord webhook deliveries in the last 24 hours",
		`increase(`+Sel("fleet_notification_failures_total")+`[24h])`, TSWidth, TSHeight).
		Thresholds(Steps("green", At(1, "yellow"), At(5, "red"))).
		ColorMode(common.BigValueColorModeBackground).
		GraphMode(common.BigValueGraphModeArea)
}
