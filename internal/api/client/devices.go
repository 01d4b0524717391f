package client

import (
	"context"
	"net/url"
	"strconv"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// DevicesResponse is a page of devices.
type DevicesResponse struct {
	Devices []domain.DeviceSummary `json:"devices"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// LatestResponse holds the newest readings for one device.
type LatestResponse struct {
	DeviceID string                 `json:"device_id"`
	Battery  *domain.BatteryReading `json:"battery,omitempty"`
	GPS      *domain.GPSReading     `json:"gps,omitempty"`
}

// DeviceMapping is one row for UpsertMappings.
type DeviceMapping struct {
	DeviceID      string  `json:"device_id"`
	BatterySerial *string `json:"battery_serial,omitempty"`
	VehicleNumber *string `json:"vehicle_number,omitempty"`
	DealerID      *string `json:"dealer_id,omitempty"`
	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
}

// ListDevices returns one page of devices visible to the caller. Zero
// values fall back to the server defaults.
func (c *Client) ListDevices(ctx context.Context, limit, offset int) (*DevicesResponse, error) {
	q := map[string]string{}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	if offset > 0 {
		q["offset"] = strconv.Itoa(offset)
	}

	var resp DevicesResponse
	if err := c.get(ctx, "/api/v1/devices", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Latest returns the newest battery and GPS reading for a device.
func (c *Client) Latest(ctx context.Context, deviceID string) (*LatestResponse, error) {
	var resp LatestResponse
	if err := c.get(ctx, "/api/v1/devices/"+url.PathEscape(deviceID)+"/latest", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpsertMappings creates or updates device mappings. Owner scope only.
func (c *Client) UpsertMappings(ctx context.Context, rows []DeviceMapping) (int, error) {
	var resp struct {
		Upserted int `json:"upserted"`
	}
	if err := c.put(ctx, "/api/v1/devices/mapping", rows, &resp); err != nil {
		return 0, err
	}
	return resp.Upserted, nil
}
