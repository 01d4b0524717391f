package notify

import (
	"context"
	"log/slog"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// LogNotifier writes alerts to the service log. It is the notifier when no
// webhook is configured, so alerts still surface in log aggregation.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// SendAlert logs one alert at a level matching its severity.
func (n *LogNotifier) SendAlert(ctx context.Context, alert *AlertPayload) error {
	n.log.LogAttrs(ctx, severityLevel(alert.Severity), "battery alert", alertAttrs(alert)...)
	return nil
}

// SendBatchAlert logs the summary followed by each alert.
func (n *LogNotifier) SendBatchAlert(ctx context.Context, alerts []AlertPayload, summary string) error {
	if len(alerts) == 0 {
		return nil
	}
	n.log.LogAttrs(ctx, slog.LevelWarn, "battery alert batch",
		slog.String("summary", summary),
		slog.Int("count", len(alerts)),
	)
	for i := range alerts {
		_ = n.SendAlert(ctx, &alerts[i])
	}
	return nil
}

func severityLevel(s domain.Severity) slog.Level {
	switch s {
	case domain.SeverityCritical:
		return slog.LevelError
	case domain.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func alertAttrs(a *AlertPayload) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("alert_id", a.AlertID),
		slog.String("device_id", a.DeviceID),
		slog.String("alert_type", a.AlertType),
		slog.String("severity", string(a.Severity)),
		slog.Float64("reading", a.ReadingValue),
	}
	if a.VehicleNumber != "" {
		attrs = append(attrs, slog.String("vehicle_number", a.VehicleNumber))
	}
	if a.ThresholdValue != nil {
		attrs = append(attrs, slog.Float64("threshold", *a.ThresholdValue))
	}
	return attrs
}
