package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// ReadingsRate returns a timeseries panel showing received and newly stored
// items per minute by kind.
func ReadingsRate() *timeseries.PanelBuilder {
	return TimeSeries("Readings / min", "Items received and newly stored per minute by kind", 8).
		WithTarget(Query(`fleet:ingest_received:rate5m * 60`, "received {{kind}}", "A")).
		WithTarget(Query(
			`sum by (kind) (rate(`+Sel("fleet_ingest_inserted_total")+`[5m])) * 60`,
			"inserted {{kind}}", "B",
		)).
		WithTarget(Query(
			`sum by (kind) (rate(`+Sel("fleet_ingest_duplicates_total")+`[5m])) * 60`,
			"duplicate {{kind}}", "C",
		)).
		Legend(Legend("mean", "max")).
		Thresholds(Steps("green"))
}

// RejectedRatio returns a timeseries panel showing the share of received
// items that failed validation.
func RejectedRatio() *timeseries.PanelBuilder {
	return TimeSeries("Rejected %", "Share of received items rejected by validation", 8).
		WithTarget(Query(
			`fleet:ingest_rejected:rate5m / fleet:ingest_received:rate5m * 100`,
			"{{kind}}", "A",
		)).
		Unit("percent").
		Thresholds(Steps("green", At(5, "yellow"), At(20, "red"))).
		ColorScheme(ThresholdColors())
}

// StoreFailures returns a timeseries panel showing insert retries, failed
// batches and audit write failures.
func StoreFailures() *timeseries.PanelBuilder {
	return TimeSeries("Store Failures / min", "Insert retries, failed batches and audit write failures", 8).
		WithTarget(Query(
			`sum(rate(`+Sel("fleet_ingest_insert_retries_total")+`[5m])) * 60`,
			"retries", "A",
		)).
		WithTarget(Query(`sum(fleet:ingest_errors:rate5m) * 60`, "failed batches", "B")).
		WithTarget(Query(
			`rate(`+Sel("fleet_audit_failures_total")+`[5m]) * 60`,
			"audit failures", "C",
		)).
		Thresholds(Steps("green", At(0.1, "yellow"), At(1, "red"))).
		ColorScheme(ThresholdColors())
}

// MQTTMessages returns a timeseries panel showing pushed messages by
// outcome.
func MQTTMessages() *timeseries.PanelBuilder {
	return TimeSeries("MQTT Messages / min", "Pushed telemetry messages by kind and result", TSWidth).
		WithTarget(Query(
			`sum by (kind, result) (rate(`+Sel("fleet_mqtt_messages_total")+`[5m])) * 60`,
			"{{kind}} {{result}}", "A",
		)).
		Legend(Legend("mean", "max")).
		Thresholds(Steps("green"))
}

// CacheHitRatio returns a timeseries panel showing the latest-reading cache
// hit ratio.
func CacheHitRatio() *timeseries.PanelBuilder {
	hits := `sum by (kind) (rate(` + Sel("fleet_cache_hits_total") + `[5m]))`
	misses := `sum by (kind) (rate(` + Sel("fleet_cache_misses_total") + `[5m]))`
	return TimeSeries("Cache Hit %", "Latest-reading cache hit ratio by kind", TSWidth).
		WithTarget(Query(hits+` / (`+hits+` + `+misses+`) * 100`, "{{kind}}", "A")).
		Unit("percent").
		Min(0).
		Max(100).
		Thresholds(Steps("red", At(50, "yellow"), At(80, "green"))).
		ColorScheme(ThresholdColors())
}
