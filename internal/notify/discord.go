package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// Embed colors by severity.
const (
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorBlue   = 0x3498DB
)

// Discord rejects messages with more than ten embeds.
const maxEmbeds = 10

const (
	defaultDiscordTimeout = 10 * time.Second
	defaultDiscordRetries = 2
	minRetryWait          = 100 * time.Millisecond
	maxRetryWait          = 30 * time.Second
)

// ErrRateLimited is returned when Discord still answers 429 after retries.
var ErrRateLimited = errors.New("discord rate limited (429)")

// DiscordNotifier posts alerts to a Discord channel webhook.
type DiscordNotifier struct {
	webhookURL string
	username   string
	rest       *resty.Client
}

type discordOptions struct {
	httpClient *http.Client
	retries    int
	username   string
	log        *slog.Logger
}

// DiscordOption configures a DiscordNotifier.
type DiscordOption func(*discordOptions)

// WithHTTPClient sends webhooks through c instead of a default client with a
// 10s timeout.
func WithHTTPClient(c *http.Client) DiscordOption {
	return func(o *discordOptions) { o.httpClient = c }
}

// WithRetries sets how many times a 429 or transport failure is retried.
func WithRetries(n int) DiscordOption {
	return func(o *discordOptions) { o.retries = max(n, 0) }
}

// WithUsername overrides the webhook's configured display name.
func WithUsername(name string) DiscordOption {
	return func(o *discordOptions) { o.username = name }
}

// WithLogger routes retry and transport warnings to l.
func WithLogger(l *slog.Logger) DiscordOption {
	return func(o *discordOptions) { o.log = l }
}

// NewDiscordNotifier creates a DiscordNotifier for webhookURL.
func NewDiscordNotifier(webhookURL string, opts ...DiscordOption) *DiscordNotifier {
	o := discordOptions{retries: defaultDiscordRetries, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var rest *resty.Client
	if o.httpClient != nil {
		rest = resty.NewWithClient(o.httpClient)
	} else {
		rest = resty.New().SetTimeout(defaultDiscordTimeout)
	}
	rest.
		SetLogger(logger.NewPrintf(o.log)).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(o.retries).
		SetRetryWaitTime(minRetryWait).
		SetRetryMaxWaitTime(maxRetryWait).
		SetRetryAfter(discordRetryAfter).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() == http.StatusTooManyRequests)
		})

	return &DiscordNotifier{webhookURL: webhookURL, username: o.username, rest: rest}
}

type discordWebhookPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Color       int                 `json:"color"`
	Description string              `json:"description,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// discordRateLimit is the body Discord sends with a 429.
type discordRateLimit struct {
	RetryAfter float64 `json:"retry_after"`
}

// SendAlert posts one alert as a single embed.
func (d *DiscordNotifier) SendAlert(ctx context.Context, alert *AlertPayload) error {
	return d.post(ctx, []discordEmbed{buildEmbed(alert)})
}

// SendBatchAlert posts up to ten alerts in one message. Anything past the
// limit is folded into a trailing summary embed.
func (d *DiscordNotifier) SendBatchAlert(ctx context.Context, alerts []AlertPayload, summary string) error {
	shown := min(len(alerts), maxEmbeds)
	embeds := make([]discordEmbed, 0, shown+1)
	for i := range shown {
		embeds = append(embeds, buildEmbed(&alerts[i]))
	}

	if extra := len(alerts) - shown; extra > 0 {
		embeds = append(embeds, discordEmbed{
			Title:       fmt.Sprintf("... and %d more alerts (%s)", extra, summary),
			Color:       colorOrange,
			Description: "Check the dashboard for the full list.",
		})
	}
	return d.post(ctx, embeds)
}

func buildEmbed(alert *AlertPayload) discordEmbed {
	vehicle := alert.VehicleNumber
	if vehicle == "" {
		vehicle = alert.DeviceID
	}

	fields := []discordEmbedField{
		{Name: "Severity", Value: string(alert.Severity), Inline: true},
		{Name: "Device", Value: alert.DeviceID, Inline: true},
		{Name: "Reading", Value: formatValue(alert.ReadingValue), Inline: true},
	}
	if alert.ThresholdValue != nil {
		fields = append(fields, discordEmbedField{Name: "Threshold", Value: formatValue(*alert.ThresholdValue), Inline: true})
	}
	if alert.CustomerName != "" {
		fields = append(fields, discordEmbedField{Name: "Customer", Value: alert.CustomerName, Inline: true})
	}

	embed := discordEmbed{
		Title:       alert.AlertType + ": " + vehicle,
		Color:       severityColor(alert.Severity),
		Description: alert.Message,
		Fields:      fields,
	}
	if !alert.CreatedAt.IsZero() {
		embed.Timestamp = alert.CreatedAt.UTC().Format(time.RFC3339)
	}
	return embed
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func severityColor(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return colorRed
	case domain.SeverityWarning:
		return colorOrange
	default:
		return colorBlue
	}
}

func (d *DiscordNotifier) post(ctx context.Context, embeds []discordEmbed) error {
	start := time.Now()
	resp, err := d.rest.R().
		SetContext(ctx).
		SetBody(discordWebhookPayload{Username: d.username, Embeds: embeds}).
		Post(d.webhookURL)
	metrics.NotificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sending discord webhook: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code < 200 || code >= 300:
		return fmt.Errorf("discord returned %d: %s", code, resp.String())
	}
	return nil
}

// discordRetryAfter reads the wait from the Retry-After header or the
// retry_after body field, both in seconds. Zero defers to resty's backoff.
func discordRetryAfter(_ *resty.Client, r *resty.Response) (time.Duration, error) {
	if r == nil || r.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(r.Header().Get("Retry-After"), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), nil
	}
	var body discordRateLimit
	if err := json.Unmarshal(r.Body(), &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second)), nil
	}
	return 0, nil
}
