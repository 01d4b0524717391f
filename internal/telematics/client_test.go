package telematics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/telematics"
)

// fakeProvider is an in-process stand-in for the telematics API.
type fakeProvider struct {
	mu         sync.Mutex
	tokenCalls atomic.Int32
	rejectNext atomic.Bool
	requests   []map[string]any
	failAuth   bool
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}

	mux.HandleFunc("POST /gettoken", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		if p.failAuth {
			write(w, http.StatusOK, map[string]any{"status": "FAILURE", "message": "invalid credentials"})
			return
		}
		write(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": map[string]string{"token": "tok"}})
	})

	record := func(r *http.Request) map[string]any {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.requests = append(p.requests, body)
		p.mu.Unlock()
		return body
	}

	mux.HandleFunc("POST /listvehicledevicemapping", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if p.rejectNext.CompareAndSwap(true, false) {
			write(w, http.StatusUnauthorized, map[string]any{"status": "FAILURE", "message": "token expired"})
			return
		}
		write(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": []map[string]any{
			{"vehicleno": "KA-01", "deviceno": "111"},
			{"vehicleno": "KA-02", "deviceno": "222"},
			{"deviceno": "333"},
		}})
	})

	mux.HandleFunc("POST /getbatterymetricshistory", func(w http.ResponseWriter, r *http.Request) {
		body := record(r)
		write(w, http.StatusOK, map[string]any{"status": "SUCCESS", "data": []map[string]any{
			{"time": body["starttime"], "bms1soc": 70, "bms1v": 50, "bms1c": 2},
			{"time": "not a time", "bms1soc": 69},
		}})
	})

	mux.HandleFunc("POST /getgpshistory", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		write(w, http.StatusOK, map[string]any{"status": "FAILURE", "message": "vehicle not found"})
	})

	return mux
}

func newSource(t *testing.T, p *fakeProvider) *telematics.HTTPSource {
	t.Helper()
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)
	return telematics.NewHTTPSource(srv.URL, "user", "pass",
		telematics.WithRateLimiter(telematics.NewRateLimiter(1000, 100, 0)),
	)
}

func TestHTTPSource_ListDevices(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	src := newSource(t, p)

	devices, err := src.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "KA-01", devices[0].DeviceID)
	assert.Equal(t, "222", devices[1].DeviceNumber)

	// Token is cached across calls.
	_, err = src.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.tokenCalls.Load())

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, "tok", p.requests[0]["token"])
}

func TestHTTPSource_ReauthenticatesOnUnauthorized(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	src := newSource(t, p)

	_, err := src.ListDevices(context.Background())
	require.NoError(t, err)

	p.rejectNext.Store(true)
	devices, err := src.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Equal(t, int32(2), p.tokenCalls.Load())
}

func TestHTTPSource_BatteryHistory(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	src := newSource(t, p)

	from := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	readings, err := src.BatteryHistory(context.Background(), "KA-01", from, to)
	require.NoError(t, err)
	require.Len(t, readings, 1, "malformed record is skipped")

	r := readings[0]
	assert.Equal(t, "KA-01", r.DeviceID)
	assert.True(t, from.Equal(r.Time))
	assert.InDelta(t, 70.0, *r.SOC, 1e-9)
	assert.InDelta(t, 100.0, *r.PowerWatts, 1e-9)

	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.requests[len(p.requests)-1]
	assert.Equal(t, "KA-01", last["vehicleno"])
	assert.InDelta(t, float64(from.UnixMilli()), last["starttime"], 0)
	assert.InDelta(t, float64(to.UnixMilli()), last["endtime"], 0)
}

func TestHTTPSource_ProviderFailure(t *testing.T) {
	t.Parallel()

	src := newSource(t, &fakeProvider{})

	_, err := src.GPSHistory(context.Background(), "KA-01", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vehicle not found")
}

func TestHTTPSource_AuthFailure(t *testing.T) {
	t.Parallel()

	src := newSource(t, &fakeProvider{failAuth: true})

	_, err := src.ListDevices(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}
