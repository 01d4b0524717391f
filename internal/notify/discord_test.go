package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func testAlert(sev domain.Severity) AlertPayload {
	threshold := 55.0
	return AlertPayload{
		AlertID:        "a1",
		DeviceID:       "D1",
		VehicleNumber:  "KA-01-EV-1",
		CustomerName:   "Acme Logistics",
		AlertType:      domain.AlertHighTemperature,
		Severity:       sev,
		Message:        "Critical battery temperature detected: 57°C",
		ReadingValue:   57,
		ThresholdValue: &threshold,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// webhook records the last payload posted to it and replies with status.
type webhook struct {
	srv  *httptest.Server
	last discordWebhookPayload
}

func newWebhook(t *testing.T, status int) *webhook {
	t.Helper()
	wh := &webhook{}
	wh.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&wh.last))
		w.WriteHeader(status)
	}))
	t.Cleanup(wh.srv.Close)
	return wh
}

func fieldMap(e discordEmbed) map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		m[f.Name] = f.Value
	}
	return m
}

func TestDiscordNotifier_SeverityColors(t *testing.T) {
	t.Parallel()

	for sev, color := range map[domain.Severity]int{
		domain.SeverityCritical: colorRed,
		domain.SeverityWarning:  colorOrange,
		domain.SeverityInfo:     colorBlue,
	} {
		t.Run(string(sev), func(t *testing.T) {
			t.Parallel()

			wh := newWebhook(t, http.StatusNoContent)
			alert := testAlert(sev)
			require.NoError(t, NewDiscordNotifier(wh.srv.URL).SendAlert(context.Background(), &alert))

			require.Len(t, wh.last.Embeds, 1)
			embed := wh.last.Embeds[0]
			assert.Equal(t, color, embed.Color)
			assert.Equal(t, "High Temperature: KA-01-EV-1", embed.Title)
			assert.Equal(t, alert.Message, embed.Description)
			assert.Equal(t, "2026-03-01T12:00:00Z", embed.Timestamp)
			assert.Equal(t, map[string]string{
				"Severity":  string(sev),
				"Device":    "D1",
				"Reading":   "57",
				"Threshold": "55",
				"Customer":  "Acme Logistics",
			}, fieldMap(embed))
		})
	}
}

func TestDiscordNotifier_ErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  int
		wantErr string
	}{
		{status: http.StatusTooManyRequests, wantErr: "rate limited"},
		{status: http.StatusBadRequest, wantErr: "discord returned 400"},
		{status: http.StatusInternalServerError, wantErr: "discord returned 500"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			wh := newWebhook(t, tt.status)
			alert := testAlert(domain.SeverityCritical)
			err := NewDiscordNotifier(wh.srv.URL, WithRetries(0)).SendAlert(context.Background(), &alert)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiscordNotifier_UnmappedDevice(t *testing.T) {
	t.Parallel()

	wh := newWebhook(t, http.StatusNoContent)
	alert := NewAlertPayload(&domain.BatteryAlert{
		DeviceID: "D9", AlertType: domain.AlertLowSOC, Severity: domain.SeverityWarning,
		Message: "Battery low: 12%", ReadingValue: 12,
	}, nil)

	require.NoError(t, NewDiscordNotifier(wh.srv.URL).SendAlert(context.Background(), &alert))
	require.Len(t, wh.last.Embeds, 1)
	assert.Equal(t, "Low SOC: D9", wh.last.Embeds[0].Title)
	assert.Empty(t, wh.last.Embeds[0].Timestamp)

	fields := fieldMap(wh.last.Embeds[0])
	assert.NotContains(t, fields, "Threshold")
	assert.NotContains(t, fields, "Customer")
}

func TestDiscordNotifier_SendBatchAlert(t *testing.T) {
	t.Parallel()

	for count, want := range map[int]int{3: 3, maxEmbeds: maxEmbeds, 14: maxEmbeds + 1} {
		t.Run(strconv.Itoa(count), func(t *testing.T) {
			t.Parallel()

			wh := newWebhook(t, http.StatusNoContent)
			alerts := make([]AlertPayload, count)
			for i := range alerts {
				alerts[i] = testAlert(domain.SeverityWarning)
			}

			require.NoError(t, NewDiscordNotifier(wh.srv.URL).SendBatchAlert(context.Background(), alerts, "ingest"))
			assert.Len(t, wh.last.Embeds, want)
			if count > maxEmbeds {
				assert.Equal(t, "... and 4 more alerts (ingest)", wh.last.Embeds[maxEmbeds].Title)
			}
		})
	}
}

func TestDiscordNotifier_NetworkError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{name: "connection refused", url: "http://127.0.0.1:1"},
		{name: "malformed url", url: "://not-a-valid-url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			alert := testAlert(domain.SeverityCritical)
			err := NewDiscordNotifier(tt.url, WithRetries(0)).SendAlert(context.Background(), &alert)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "sending discord webhook")
		})
	}
}

func TestDiscordNotifier_RateLimitRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limited   int
		retries   int
		wantCalls int32
		wantErr   error
	}{
		{name: "retry after header then success", limited: 1, retries: 2, wantCalls: 2},
		{name: "still limited after retries", limited: 5, retries: 1, wantCalls: 2, wantErr: ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if int(calls.Add(1)) <= tt.limited {
					w.Header().Set("Retry-After", "0.05")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.05,"global":false}`))
					return
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			alert := testAlert(domain.SeverityWarning)
			err := NewDiscordNotifier(srv.URL, WithRetries(tt.retries)).SendAlert(context.Background(), &alert)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestDiscordNotifier_Username(t *testing.T) {
	t.Parallel()

	wh := newWebhook(t, http.StatusNoContent)
	alert := testAlert(domain.SeverityInfo)
	require.NoError(t, NewDiscordNotifier(wh.srv.URL, WithUsername("Fleet Alerts")).SendAlert(context.Background(), &alert))
	assert.Equal(t, "Fleet Alerts", wh.last.Username)
}

func TestDiscordRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		header string
		body   string
		want   time.Duration
	}{
		{name: "header seconds", status: http.StatusTooManyRequests, header: "2", want: 2 * time.Second},
		{name: "fractional header", status: http.StatusTooManyRequests, header: "0.25", want: 250 * time.Millisecond},
		{name: "body retry_after", status: http.StatusTooManyRequests, body: `{"retry_after":1.5}`, want: 1500 * time.Millisecond},
		{name: "no hint", status: http.StatusTooManyRequests, body: `{}`},
		{name: "not rate limited", status: http.StatusBadGateway, header: "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := resty.New().R().Get(srv.URL)
			require.NoError(t, err)

			got, err := discordRetryAfter(nil, resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	custom := &http.Client{}
	d := NewDiscordNotifier("https://example.com", WithHTTPClient(custom))
	assert.Same(t, custom, d.rest.GetClient())
}

func notificationSampleCount() uint64 {
	ch := make(chan prometheus.Metric, 1)
	metrics.NotificationDuration.Collect(ch)
	m := <-ch
	pb := &dto.Metric{}
	_ = m.Write(pb)
	return pb.GetHistogram().GetSampleCount()
}

func TestSendAlert_ObservesNotificationDuration(t *testing.T) {
	t.Parallel()

	wh := newWebhook(t, http.StatusNoContent)
	before := notificationSampleCount()

	alert := testAlert(domain.SeverityInfo)
	require.NoError(t, NewDiscordNotifier(wh.srv.URL).SendAlert(context.Background(), &alert))

	assert.Greater(t, notificationSampleCount(), before)
}
