package main

import (
	"errors"
	"fmt"
)

// Rule output formats.
const (
	RulesFormatOperator = "operator"
	RulesFormatFile     = "file"
)

// KnownMetrics is the set of metric names exported by fleet-telemetry plus
// recording rule names referenced in dashboards and alerts.
var KnownMetrics = map[string]bool{
	// HTTP metrics.
	"fleet_http_request_duration_seconds_bucket": true,
	"fleet_http_requests_total":                  true,
	"fleet_http_panics_total":                    true,

	// Health metrics.
	"fleet_healthz_up": true,
	"fleet_readyz_up":  true,

	// Ingestion metrics.
	"fleet_ingest_received_total":       true,
	"fleet_ingest_inserted_total":       true,
	"fleet_ingest_duplicates_total":     true,
	"fleet_ingest_rejected_total":       true,
	"fleet_ingest_insert_retries_total": true,
	"fleet_ingest_errors_total":         true,
	"fleet_audit_failures_total":        true,
	"fleet_mqtt_messages_total":         true,

	// Provider and poll metrics.
	"fleet_poll_duration_seconds_bucket":   true,
	"fleet_poll_devices_total":             true,
	"fleet_poll_device_errors_total":       true,
	"fleet_provider_calls_total":           true,
	"fleet_provider_token_refreshes_total": true,
	"fleet_provider_daily_usage":           true,

	// Alert metrics.
	"fleet_alerts_created_total":                 true,
	"fleet_alerts_suppressed_total":              true,
	"fleet_notification_failures_total":          true,
	"fleet_notification_duration_seconds_bucket": true,

	// Aggregate, cache and scheduler metrics.
	"fleet_aggregate_refresh_duration_seconds_bucket": true,
	"fleet_aggregate_refresh_failures_total":          true,
	"fleet_cache_hits_total":                          true,
	"fleet_cache_misses_total":                        true,
	"fleet_job_runs_total":                            true,
	"fleet_job_lock_skips_total":                      true,
	"fleet_scheduler_next_run_timestamp_seconds":      true,

	// Recording rules.
	"fleet:http_requests:rate5m":   true,
	"fleet:http_errors:rate5m":     true,
	"fleet:ingest_received:rate5m": true,
	"fleet:ingest_rejected:rate5m": true,
	"fleet:ingest_errors:rate5m":   true,
	"fleet:provider_calls:rate5m":  true,

	// Standard Prometheus metrics referenced in dashboards.
	"up":                         true,
	"process_start_time_seconds": true,
}

// Config controls which artifacts the generator produces and where they go.
type Config struct {
	OutputDir        string
	DashboardEnabled bool
	RulesEnabled     bool
	// RulesFormat selects PrometheusRule resources or plain rule files.
	RulesFormat string
}

// DefaultConfig returns a Config that generates all artifacts into ../../deploy
// (relative to tools/dashgen/).
func DefaultConfig() Config {
	return Config{
		OutputDir:        "../../deploy",
		DashboardEnabled: true,
		RulesEnabled:     true,
		RulesFormat:      RulesFormatOperator,
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("output directory must be set")
	}
	if !c.DashboardEnabled && !c.RulesEnabled {
		return errors.New("at least one of dashboard or rules must be enabled")
	}
	switch c.RulesFormat {
	case "", RulesFormatOperator, RulesFormatFile:
	default:
		return fmt.Errorf("unknown rules format %q (want %s or %s)", c.RulesFormat, RulesFormatOperator, RulesFormatFile)
	}
	return nil
}
