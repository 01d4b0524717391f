package rules

// AlertRules returns the operational alerts for fleet-telemetry. Every alert
// carries a severity label for Alertmanager routing.
func AlertRules() PrometheusRule {
	return newResource("fleet-alerts", Group{
		Name: "fleet-alerts",
		Rules: []Rule{
			alert("FleetTelemetryDown", `absent(up{job="fleet-telemetry"})`, "2m", "critical",
				"Fleet telemetry service is down",
				"The fleet-telemetry job has been absent for more than 2 minutes."),
			alert("FleetReadinessDown", `fleet_readyz_up == 0`, "2m", "critical",
				"Fleet telemetry readiness check is failing",
				"The database or latest-reading cache has been unreachable for more than 2 minutes."),
			alert("FleetHighErrorRate", `fleet:http_errors:rate5m / fleet:http_requests:rate5m > 0.05`, "5m", "warning",
				"High HTTP error rate on fleet telemetry",
				"More than 5% of HTTP requests are returning 5xx errors over the last 5 minutes."),
			alert("FleetIngestErrors", `sum(fleet:ingest_errors:rate5m) > 0`, "5m", "warning",
				"Telemetry batches are failing to store",
				"Ingest batches have been failing after retries for more than 5 minutes. Readings are being lost."),
			alert("FleetHighRejectRate", `fleet:ingest_rejected:rate5m / fleet:ingest_received:rate5m > 0.2`, "15m", "warning",
				"High telemetry reject rate",
				"More than 20% of received {{ $labels.kind }} items are failing validation."),
			alert("FleetProviderQuotaHigh", `fleet_provider_daily_usage > 40000`, "5m", "warning",
				"Telematics provider daily usage is above 80% of the quota",
				"Provider calls today have exceeded 40000 (limit is 50000). Polls stop when the limit is reached."),
			alert("FleetAggregateRefreshFailing", `increase(fleet_aggregate_refresh_failures_total[1h]) > 0`, "0m", "warning",
				"Continuous aggregate refresh is failing",
				"One or more hourly or daily aggregate refreshes failed in the last hour. Analytics may be stale."),
			alert("FleetNotificationFailures", `increase(fleet_notification_failures_total[5m]) > 0`, "1m", "warning",
				"Alert notification delivery failures detected",
				"One or more battery alert notifications (Discord webhooks) have failed to send."),
			alert("FleetJobFailures", `sum by (job) (increase(fleet_job_runs_total{status="failed"}[1h])) > 2`, "0m", "warning",
				"Scheduled job {{ $labels.job }} keeps failing",
				"The job failed more than twice in the last hour. Check the job history endpoint."),
		},
	})
}

func alert(name, expr, forDur, severity, summary, description string) Rule {
	return Rule{
		Alert: name,
		Expr:  expr,
		For:   forDur,
		Labels: map[string]string{
			"severity": severity,
		},
		Annotations: map[string]string{
			"summary":     summary,
			"description": description,
		},
	}
}
