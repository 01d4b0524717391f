package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

type recorded struct {
	method string
	path   string
	query  string
	role   string
	dealer string
	body   []byte
}

func apiServer(t *testing.T, status int, body string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.role = r.Header.Get("X-Fleet-Role")
		rec.dealer = r.Header.Get("X-Fleet-Dealer-ID")
		rec.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestDevicesList(t *testing.T) {
	t.Parallel()

	srv, rec := apiServer(t, http.StatusOK,
		`{"devices":[{"device_id":"dev-a","vehicle_number":"KA-01","soc":80,"soh":96,"is_active":true}],"total":1,"limit":50,"offset":0}`)

	out, err := run(t, srv, "devices", "list", "--role", "dealer", "--dealer", "dealer-a", "--limit", "5")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/devices", rec.path)
	assert.Equal(t, "limit=5", rec.query)
	assert.Equal(t, "dealer", rec.role)
	assert.Equal(t, "dealer-a", rec.dealer)
	assert.Contains(t, out, "dev-a")
	assert.Contains(t, out, "KA-01")
	assert.Contains(t, out, "80.0%")
	assert.Contains(t, out, "Showing 1 of 1")
}

func TestAlertsList_JSONOutput(t *testing.T) {
	t.Parallel()

	srv, rec := apiServer(t, http.StatusOK,
		`{"alerts":[{"id":"a1","device_id":"dev-a","alert_type":"Low SOC","severity":"critical","reading_value":3}],"count":1}`)

	out, err := run(t, srv, "alerts", "list", "--unacknowledged", "--output", "json")
	require.NoError(t, err)
	assert.Equal(t, "acknowledged=false", rec.query)

	var alerts []domain.BatteryAlert
	require.NoError(t, json.Unmarshal([]byte(out), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "Low SOC", alerts[0].AlertType)
}

func TestAlertsList_ConflictingFlags(t *testing.T) {
	t.Parallel()

	srv, _ := apiServer(t, http.StatusOK, `{"alerts":[]}`)
	_, err := run(t, srv, "alerts", "list", "--acknowledged", "--unacknowledged")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestAlertsAck(t *testing.T) {
	t.Parallel()

	srv, rec := apiServer(t, http.StatusOK, `{"id":"a1","acknowledged":true,"acknowledged_by":"priya"}`)

	out, err := run(t, srv, "alerts", "ack", "a1", "--notes", "pack swapped")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/alerts/a1/acknowledge", rec.path)
	assert.JSONEq(t, `{"notes":"pack swapped"}`, string(rec.body))
	assert.Contains(t, out, "acknowledged by priya")
}

func TestAlertsConfigSet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
low_soc:
  value: 8
  severity: critical
  label: Low SOC
high_temp:
  value: 55
  severity: critical
  label: High Temperature
`), 0o600))

	srv, rec := apiServer(t, http.StatusOK,
		`{"low_soc":{"value":8,"severity":"critical","label":"Low SOC"},"high_temp":{"value":55,"severity":"critical","label":"High Temperature"}}`)

	out, err := run(t, srv, "alerts", "config", "set", "-f", file)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, rec.method)
	assert.Equal(t, "/api/v1/alerts/config", rec.path)

	var sent domain.AlertConfig
	require.NoError(t, json.Unmarshal(rec.body, &sent))
	assert.InDelta(t, 8, sent[domain.KeyLowSOC].Value, 1e-9)
	assert.Contains(t, out, "2 thresholds")
}

func TestAlertsConfigSet_RejectsInvalidLocally(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"low_soc":{"value":8,"severity":"urgent","label":"x"}}`), 0o600))

	srv, rec := apiServer(t, http.StatusOK, `{}`)
	_, err := run(t, srv, "alerts", "config", "set", "-f", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid alert config")
	assert.Empty(t, rec.path)
}

func TestTriggerCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args []string
		path string
	}{
		{args: []string{"poll"}, path: "/api/v1/poll"},
		{args: []string{"refresh"}, path: "/api/v1/aggregates/refresh"},
		{args: []string{"health-check"}, path: "/api/v1/alerts/health-check"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			srv, rec := apiServer(t, http.StatusOK, `{"job":"fleet_poll","status":"completed","rows_affected":12}`)
			out, err := run(t, srv, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.path, rec.path)
			assert.Contains(t, out, "completed (12 rows)")
		})
	}
}

func TestTrigger_Conflict(t *testing.T) {
	t.Parallel()

	srv, _ := apiServer(t, http.StatusConflict, `{"title":"Conflict","status":409,"detail":"fleet_poll is already running"}`)
	_, err := run(t, srv, "poll")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")
}

func TestJobsHistory(t *testing.T) {
	t.Parallel()

	srv, rec := apiServer(t, http.StatusOK,
		`[{"id":"r1","job_name":"fleet_poll","status":"succeeded","started_at":"2026-03-01T12:00:00Z","rows_affected":40}]`)

	out, err := run(t, srv, "jobs", "history", "fleet_poll", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/jobs/fleet_poll", rec.path)
	assert.Equal(t, "limit=3", rec.query)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "40")
}

func TestJobsSchedule(t *testing.T) {
	t.Parallel()

	srv, rec := apiServer(t, http.StatusOK,
		`[{"job_name":"fleet_poll","next_run":"2026-03-01T12:30:00Z"},{"job_name":"health_check","next_run":"2026-03-01T13:00:00Z"}]`)

	out, err := run(t, srv, "jobs", "schedule")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/schedule", rec.path)
	assert.Contains(t, out, "NEXT RUN")
	assert.Contains(t, out, "health_check")
}

func TestUnknownOutputFormat(t *testing.T) {
	t.Parallel()

	srv, _ := apiServer(t, http.StatusOK, `[]`)
	_, err := run(t, srv, "jobs", "list", "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
