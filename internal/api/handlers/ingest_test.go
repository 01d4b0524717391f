package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/api/handlers"
	"github.com/donaldgifford/fleet-telemetry/internal/engine"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
)

func newIngestAPI(t *testing.T, svc handlers.IngestService) func(path, body string) (int, string) {
	t.Helper()

	api := newAPI(t)
	handlers.RegisterIngestRoutes(api, handlers.NewIngestHandler(svc, quietLogger()))
	return func(path, body string) (int, string) {
		resp := api.Post(path, "Content-Type: application/json", strings.NewReader(body))
		return resp.Code, resp.Body.String()
	}
}

func TestIngestCAN_RejectedBatch(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	post := newIngestAPI(t, engine.NewIngester(s, engine.WithIngestLogger(quietLogger())))

	code, body := post("/api/v1/ingest/can-data", `[
		{"time":"2026-03-01T11:00:00Z","device_id":"dev-a","soc":150,"voltage":52.1},
		{"time":"2026-03-01T11:00:00Z","device_id":"dev-a","soc":75,"voltage":52.1}
	]`)
	require.Equal(t, http.StatusOK, code, body)

	var res engine.IngestResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 2, res.TotalReceived)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.RejectedSamples, 1)
	assert.Equal(t, "SOC out of range: 150% (expected 0–100%)", res.RejectedSamples[0].Reason)

	assert.Len(t, s.Rejected(), 1)

	// Same batch again: the valid reading is now a duplicate.
	code, body = post("/api/v1/ingest/can-data", `[
		{"time":"2026-03-01T11:00:00Z","device_id":"dev-a","soc":75,"voltage":52.1}
	]`)
	require.Equal(t, http.StatusOK, code, body)
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
}

func TestIngest_NotAnArray(t *testing.T) {
	t.Parallel()

	post := newIngestAPI(t, engine.NewIngester(store.NewMemoryStore(), engine.WithIngestLogger(quietLogger())))

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/ingest/can-data", "expected an array of CAN readings"},
		{"/api/v1/ingest/gps-data", "expected an array of GPS readings"},
		{"/api/v1/ingest/trips", "expected an array of trip readings"},
		{"/api/v1/ingest/energy", "expected an array of energy readings"},
	}
	for _, tt := range tests {
		code, body := post(tt.path, `{"device_id":"dev-a"}`)
		assert.Equal(t, http.StatusBadRequest, code, tt.path)
		assert.Contains(t, body, tt.want)
	}
}

func TestIngestTrips_MissingKeyIsRejected(t *testing.T) {
	t.Parallel()

	post := newIngestAPI(t, engine.NewIngester(store.NewMemoryStore(), engine.WithIngestLogger(quietLogger())))

	code, body := post("/api/v1/ingest/trips", `[
		{"device_id":"dev-a","start_time":"2026-03-01T08:00:00Z","end_time":"2026-03-01T09:00:00Z","distance_km":12.5},
		{"device_id":"dev-a","start_time":"2026-03-01T10:00:00Z"}
	]`)
	require.Equal(t, http.StatusOK, code, body)

	var res engine.IngestResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Rejected)
}

type failingIngest struct{}

func (failingIngest) IngestCAN(context.Context, []byte) (*engine.IngestResult, error) {
	return &engine.IngestResult{TotalReceived: 3, Rejected: 1}, errors.New("storing can batch: connection reset")
}

func (failingIngest) IngestGPS(context.Context, []byte) (*engine.IngestResult, error) {
	return nil, errors.New("unexpected")
}

func (failingIngest) IngestTrips(context.Context, []byte) (*engine.IngestResult, error) {
	return nil, errors.New("unexpected")
}

func (failingIngest) IngestEnergy(context.Context, []byte) (*engine.IngestResult, error) {
	return nil, errors.New("unexpected")
}

func TestIngest_PersistenceFailureKeepsCounts(t *testing.T) {
	t.Parallel()

	post := newIngestAPI(t, failingIngest{})

	code, body := post("/api/v1/ingest/can-data", `[]`)
	require.Equal(t, http.StatusInternalServerError, code)

	var res engine.IngestResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 3, res.TotalReceived)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, "Batch could not be stored", res.Message)

	code, body = post("/api/v1/ingest/gps-data", `[]`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body, "ingest failed")
}
