package telematics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// Provider endpoints.
const (
	endpointListVehicles   = "listvehicledevicemapping"
	endpointBatteryHistory = "getbatterymetricshistory"
	endpointGPSHistory     = "getgpshistory"
)

const defaultTimeout = 30 * time.Second

// HTTPSource implements Source against the provider's JSON-over-POST API.
type HTTPSource struct {
	client  *resty.Client
	tokens  *TokenCache
	limiter *RateLimiter
	log     *slog.Logger
}

// Option configures the HTTPSource.
type Option func(*sourceOptions)

type sourceOptions struct {
	timeout   time.Duration
	transport http.RoundTripper
	limiter   *RateLimiter
	log       *slog.Logger
	tokenOpts []TokenOption
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *sourceOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTransport sets the HTTP transport, e.g. an instrumented one.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *sourceOptions) {
		o.transport = rt
	}
}

// WithRateLimiter paces calls through rl.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(o *sourceOptions) {
		o.limiter = rl
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *sourceOptions) {
		o.log = l
	}
}

// WithTokenOptions passes options through to the TokenCache.
func WithTokenOptions(opts ...TokenOption) Option {
	return func(o *sourceOptions) {
		o.tokenOpts = append(o.tokenOpts, opts...)
	}
}

// NewHTTPSource creates a provider client for baseURL.
func NewHTTPSource(baseURL, username, password string, opts ...Option) *HTTPSource {
	o := sourceOptions{
		timeout: defaultTimeout,
		limiter: NewRateLimiter(5, 10, 0),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(o.timeout).
		SetLogger(logger.NewPrintf(o.log)).
		SetHeader("Content-Type", "application/json")
	if o.transport != nil {
		client.SetTransport(o.transport)
	}

	return &HTTPSource{
		client:  client,
		tokens:  NewTokenCache(client, username, password, o.tokenOpts...),
		limiter: o.limiter,
		log:     o.log,
	}
}

// ListDevices returns every vehicle with a device mapping.
func (s *HTTPSource) ListDevices(ctx context.Context) ([]Device, error) {
	items, err := s.postArray(ctx, endpointListVehicles, map[string]any{})
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(items))
	for _, raw := range items {
		d, err := NormalizeDevice(raw)
		if err != nil || d.DeviceID == "" {
			s.log.Warn("skipping unrecognized vehicle record", "error", err)
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// BatteryHistory fetches CAN battery metrics for deviceID in [from, to].
func (s *HTTPSource) BatteryHistory(
	ctx context.Context,
	deviceID string,
	from, to time.Time,
) ([]domain.BatteryReading, error) {
	var out []domain.BatteryReading
	for _, w := range splitWindow(from, to, maxWindow) {
		items, err := s.postArray(ctx, endpointBatteryHistory, historyPayload(deviceID, w))
		if err != nil {
			return out, err
		}
		for _, raw := range items {
			r, err := NormalizeBattery(deviceID, raw)
			if err != nil {
				s.log.Warn("skipping malformed battery record", "device_id", deviceID, "error", err)
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// GPSHistory fetches positions for deviceID in [from, to].
func (s *HTTPSource) GPSHistory(
	ctx context.Context,
	deviceID string,
	from, to time.Time,
) ([]domain.GPSReading, error) {
	var out []domain.GPSReading
	for _, w := range splitWindow(from, to, maxWindow) {
		items, err := s.postArray(ctx, endpointGPSHistory, historyPayload(deviceID, w))
		if err != nil {
			return out, err
		}
		for _, raw := range items {
			g, err := NormalizeGPS(deviceID, raw)
			if err != nil {
				s.log.Warn("skipping malformed gps record", "device_id", deviceID, "error", err)
				continue
			}
			out = append(out, g)
		}
	}
	return out, nil
}

func historyPayload(deviceID string, w window) map[string]any {
	return map[string]any{
		"vehicleno": deviceID,
		"starttime": w.from.UnixMilli(),
		"endtime":   w.to.UnixMilli(),
	}
}

// postArray calls endpoint and decodes its data field as an array. An empty
// or null data field yields no items.
func (s *HTTPSource) postArray(ctx context.Context, endpoint string, payload map[string]any) ([]json.RawMessage, error) {
	data, err := s.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	items, err := domain.DecodeArray(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return items, nil
}

func (s *HTTPSource) post(ctx context.Context, endpoint string, payload map[string]any) (json.RawMessage, error) {
	data, err := s.postOnce(ctx, endpoint, payload)
	if errors.Is(err, errUnauthorized) {
		s.tokens.Invalidate()
		data, err = s.postOnce(ctx, endpoint, payload)
	}
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.ProviderCallsTotal.WithLabelValues(endpoint, "ok").Inc()
	return data, nil
}

var errUnauthorized = errors.New("provider rejected token")

func (s *HTTPSource) postOnce(ctx context.Context, endpoint string, payload map[string]any) (json.RawMessage, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting provider token: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["token"] = token

	var env envelope
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&env).
		SetError(&env).
		Post("/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.IsError() {
		return nil, fmt.Errorf("calling %s: status %d", endpoint, resp.StatusCode())
	}
	if err := env.err(endpoint); err != nil {
		return nil, err
	}
	return env.Data, nil
}
