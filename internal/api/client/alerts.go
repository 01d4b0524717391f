package client

import (
	"context"
	"strconv"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// ListAlertsParams filters ListAlerts. Nil fields are not sent.
type ListAlertsParams struct {
	Acknowledged *bool
	DeviceID     string
	Limit        int
}

// ListAlerts returns alerts newest first.
func (c *Client) ListAlerts(ctx context.Context, p *ListAlertsParams) ([]domain.BatteryAlert, error) {
	q := map[string]string{}
	if p != nil {
		if p.Acknowledged != nil {
			q["acknowledged"] = strconv.FormatBool(*p.Acknowledged)
		}
		if p.DeviceID != "" {
			q["device_id"] = p.DeviceID
		}
		if p.Limit > 0 {
			q["limit"] = strconv.Itoa(p.Limit)
		}
	}

	var resp struct {
		Alerts []domain.BatteryAlert `json:"alerts"`
	}
	if err := c.get(ctx, "/api/v1/alerts", q, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged with optional notes.
func (c *Client) AcknowledgeAlert(ctx context.Context, id, notes string) (*domain.BatteryAlert, error) {
	var body any
	if notes != "" {
		body = map[string]string{"notes": notes}
	}

	var alert domain.BatteryAlert
	if err := c.post(ctx, "/api/v1/alerts/"+id+"/acknowledge", body, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetAlertConfig returns the active threshold set.
func (c *Client) GetAlertConfig(ctx context.Context) (domain.AlertConfig, error) {
	var cfg domain.AlertConfig
	if err := c.get(ctx, "/api/v1/alerts/config", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetAlertConfig replaces the threshold set. Owner scope only.
func (c *Client) SetAlertConfig(ctx context.Context, cfg domain.AlertConfig) (domain.AlertConfig, error) {
	var out domain.AlertConfig
	if err := c.put(ctx, "/api/v1/alerts/config", cfg, &out); err != nil {
		return nil, err
	}
	return out, nil
}
