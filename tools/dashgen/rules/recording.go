package rules

// RecordingRules returns the 5m rates the dashboard and alerts read.
func RecordingRules() PrometheusRule {
	return newResource("fleet-recording-rules", Group{
		Name:     "fleet-recording",
		Interval: "30s",
		Rules: []Rule{
			record("fleet:http_requests:rate5m",
				`sum(rate(fleet_http_requests_total{job="fleet-telemetry"}[5m]))`),
			record("fleet:http_errors:rate5m",
				`sum(rate(fleet_http_requests_total{job="fleet-telemetry",status=~"5.."}[5m]))`),
			record("fleet:ingest_received:rate5m",
				`sum by (kind) (rate(fleet_ingest_received_total{job="fleet-telemetry"}[5m]))`),
			record("fleet:ingest_rejected:rate5m",
				`sum by (kind) (rate(fleet_ingest_rejected_total{job="fleet-telemetry"}[5m]))`),
			record("fleet:ingest_errors:rate5m",
				`sum by (kind) (rate(fleet_ingest_errors_total{job="fleet-telemetry"}[5m]))`),
			record("fleet:provider_calls:rate5m",
				`sum by (outcome) (rate(fleet_provider_calls_total{job="fleet-telemetry"}[5m]))`),
		},
	})
}

func record(name, expr string) Rule {
	return Rule{Record: name, Expr: expr}
}
