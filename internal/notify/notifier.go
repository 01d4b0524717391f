// Package notify defines the notification interface and implementations
// for battery alert delivery.
package notify

import (
	"context"
	"time"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// AlertPayload contains the data needed to announce a battery alert.
type AlertPayload struct {
	AlertID        string
	DeviceID       string
	VehicleNumber  string
	CustomerName   string
	AlertType      string
	Severity       domain.Severity
	Message        string
	ReadingValue   float64
	ThresholdValue *float64
	CreatedAt      time.Time
}

// NewAlertPayload builds a payload from a stored alert and the device
// mapping, which may be nil for unmapped devices.
func NewAlertPayload(a *domain.BatteryAlert, m *domain.DeviceBatteryMap) AlertPayload {
	p := AlertPayload{
		AlertID:        a.ID,
		DeviceID:       a.DeviceID,
		AlertType:      a.AlertType,
		Severity:       a.Severity,
		Message:        a.Message,
		ReadingValue:   a.ReadingValue,
		ThresholdValue: a.ThresholdValue,
		CreatedAt:      a.CreatedAt,
	}
	if m != nil {
		if m.VehicleNumber != nil {
			p.VehicleNumber = *m.VehicleNumber
		}
		if m.CustomerName != nil {
			p.CustomerName = *m.CustomerName
		}
	}
	return p
}

// Notifier defines the interface for sending battery alert notifications.
type Notifier interface {
	SendAlert(ctx context.Context, alert *AlertPayload) error
	SendBatchAlert(ctx context.Context, alerts []AlertPayload, summary string) error
}
