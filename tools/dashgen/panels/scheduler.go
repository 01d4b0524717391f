package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// JobRuns returns a timeseries panel showing scheduled job runs per hour by
// job and status, with lock skips.
func JobRuns() *timeseries.PanelBuilder {
	return TimeSeries("Job Runs / h", "Scheduled and manual job runs by status", TSWidth).
		WithTarget(Query(
			`sum by (job, status) (increase(`+Sel("fleet_job_runs_total")+`[1h]))`,
			"{{job}} {{status}}", "A",
		)).
		WithTarget(Query(
			`sum by (job) (increase(`+Sel("fleet_job_lock_skips_total")+`[1h]))`,
			"{{job}} lock skipped", "B",
		)).
		Legend(Legend("sum")).
		Thresholds(Steps("green"))
}

// AggregateRefresh returns a timeseries panel showing the p95 continuous
// aggregate refresh duration and failures.
func AggregateRefresh() *timeseries.PanelBuilder {
	return TimeSeries("Aggregate Refresh", "p95 refresh duration and failures per hour", TSWidth).
		WithTarget(Query(
			`histogram_quantile(0.95, sum(rate(`+Sel("fleet_aggregate_refresh_duration_seconds_bucket")+`[1h])) by (le))`,
			"p95 seconds", "A",
		)).
		WithTarget(Query(
			`increase(`+Sel("fleet_aggregate_refresh_failures_total")+`[1h])`,
			"failures / h", "B",
		)).
		Thresholds(Steps("green"))
}
