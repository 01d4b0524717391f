// Package telematics adapts the external fleet-telematics provider to the
// pull contract the ingestion pipeline depends on.
package telematics

import (
	"context"
	"time"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// Device is a vehicle known to the provider.
type Device struct {
	DeviceID      string `json:"device_id"`
	VehicleNumber string `json:"vehicle_number,omitempty"`
	DeviceNumber  string `json:"device_number,omitempty"`
}

// Source is the pull contract: list devices and fetch history windows.
// Readings are returned normalized but unvalidated.
type Source interface {
	ListDevices(ctx context.Context) ([]Device, error)
	BatteryHistory(ctx context.Context, deviceID string, from, to time.Time) ([]domain.BatteryReading, error)
	GPSHistory(ctx context.Context, deviceID string, from, to time.Time) ([]domain.GPSReading, error)
}

// maxWindow is the longest history span requested in one provider call.
const maxWindow = 30 * 24 * time.Hour

type window struct {
	from, to time.Time
}

// splitWindow breaks [from, to] into consecutive spans no longer than size.
func splitWindow(from, to time.Time, size time.Duration) []window {
	if !to.After(from) {
		return nil
	}
	var out []window
	for start := from; start.Before(to); {
		end := start.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, window{from: start, to: end})
		start = end
	}
	return out
}
