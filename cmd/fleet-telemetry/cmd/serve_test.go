package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/config"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
)

func memoryApp(t *testing.T) *app {
	t.Helper()

	cfg, err := config.Parse([]byte("database:\n  driver: memory\n"))
	require.NoError(t, err)

	a := &app{
		cfg:   cfg,
		log:   slog.New(slog.DiscardHandler),
		store: store.NewMemoryStore(),
	}
	require.NoError(t, a.buildEngine())
	return a
}

func serve(t *testing.T, a *app, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	e := newServer(a, nil)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_Probes(t *testing.T) {
	t.Parallel()

	a := memoryApp(t)

	tests := []struct {
		path string
		want string
	}{
		{path: "/healthz", want: `"ok"`},
		{path: "/readyz", want: `"ready"`},
		{path: "/metrics", want: "fleet_"},
		{path: "/openapi.json", want: "Fleet Telemetry API"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			rec := serve(t, a, http.MethodGet, tt.path, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestNewServer_IngestThenQuery(t *testing.T) {
	t.Parallel()

	a := memoryApp(t)

	rec := serve(t, a, http.MethodPut, "/api/v1/devices/mapping",
		`[{"device_id":"dev-a","dealer_id":"dealer-a","vehicle_number":"KA-01"}]`,
		"X-Fleet-Role", "owner")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, a, http.MethodPost, "/api/v1/ingest/can-data",
		`[{"device_id":"dev-a","time":"2026-03-01T12:00:00Z","soc":80,"soh":96}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"inserted":1`)

	rec = serve(t, a, http.MethodGet, "/api/v1/devices", "",
		"X-Fleet-Role", "dealer", "X-Fleet-Dealer-ID", "dealer-a")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"device_id":"dev-a"`)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestNewServer_PollNotConfigured(t *testing.T) {
	t.Parallel()

	rec := serve(t, memoryApp(t), http.MethodPost, "/api/v1/poll", "", "X-Fleet-Role", "owner")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleet_poll is not configured")
}

func TestNewServer_RefreshRecordsJobRun(t *testing.T) {
	t.Parallel()

	a := memoryApp(t)

	rec := serve(t, a, http.MethodPost, "/api/v1/aggregates/refresh", "", "X-Fleet-Role", "owner")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, a, http.MethodGet, "/api/v1/jobs/aggregate_refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"succeeded"`)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "short",
			args: []string{"--short"},
			check: func(t *testing.T, out string) {
				t.Helper()
				assert.Equal(t, "fleet-telemetry dev\n", out)
			},
		},
		{
			name: "default includes go version",
			check: func(t *testing.T, out string) {
				t.Helper()
				assert.True(t, strings.HasPrefix(out, "fleet-telemetry dev\n"))
				assert.Contains(t, out, "go:     "+runtime.Version())
			},
		},
		{
			name: "json",
			args: []string{"--json"},
			check: func(t *testing.T, out string) {
				t.Helper()
				var b buildInfo
				require.NoError(t, json.Unmarshal([]byte(out), &b))
				assert.Equal(t, "dev", b.Version)
				assert.Equal(t, runtime.Version(), b.GoVersion)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			cmd := versionCommand()
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
			tt.check(t, out.String())
		})
	}
}

func TestPrintMigrationStates(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var out bytes.Buffer
	require.NoError(t, printMigrationStates(&out, []store.MigrationState{
		{Version: "001_initial_schema.sql", AppliedAt: &at},
		{Version: "002_timescale.sql"},
	}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "VERSION")
	assert.Contains(t, lines[1], "applied")
	assert.Contains(t, lines[1], "2026-03-01T09:30:00Z")
	assert.Contains(t, lines[2], "pending")
}

func TestOpenAPICommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := openapiCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--format", "json"})
	require.NoError(t, cmd.Execute())

	body := out.String()
	assert.Contains(t, body, `"openapi": "3.1.0"`)
	assert.Contains(t, body, "/api/v1/ingest/can-data")
	assert.Contains(t, body, "/api/v1/alerts/{id}/acknowledge")
}
