// Package main implements a mock telematics provider for local development.
// It serves the provider's token, vehicle mapping and history endpoints with
// synthetic battery and GPS series generated from a fleet fixture, so the
// poller can run without real provider credentials.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"

	// maxRecords caps a single history response.
	maxRecords = 2000
)

type vehicle struct {
	VehicleNo string  `json:"vehicleno"`
	DeviceNo  string  `json:"deviceno"`
	BaseSOC   float64 `json:"base_soc"`
	SOH       float64 `json:"soh"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

type fleetFixture struct {
	Vehicles []vehicle `json:"vehicles"`
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type historyRequest struct {
	Token     string `json:"token"`
	VehicleNo string `json:"vehicleno"`
	StartTime int64  `json:"starttime"`
	EndTime   int64  `json:"endtime"`
}

// provider holds the fixture and issued session tokens.
type provider struct {
	log      *slog.Logger
	vehicles map[string]int
	fleet    []vehicle
	interval time.Duration
	tokenTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
	seq    atomic.Int64
}

func main() {
	port := flag.Int("port", 8089, "port to listen on")
	fixtureFile := flag.String("fixture", "tools/mock-server/testdata/fleet.json", "path to fleet fixture")
	interval := flag.Duration("interval", 5*time.Minute, "spacing between synthetic readings")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "lifetime of issued tokens")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fixture, err := loadFixture(*fixtureFile)
	if err != nil {
		logger.Error("failed to load fixture", "path", *fixtureFile, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded fixture", "vehicles", len(fixture.Vehicles))

	p := newProvider(logger, fixture, *interval, *tokenTTL)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting mock telematics provider", "addr", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      requestLogger(logger, p.routes()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func loadFixture(path string) (*fleetFixture, error) {
	data, err := os.ReadFile(path) //nolint:gosec // fixture path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f fleetFixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &f, nil
}

func newProvider(logger *slog.Logger, f *fleetFixture, interval, tokenTTL time.Duration) *provider {
	idx := make(map[string]int, len(f.Vehicles))
	for i, v := range f.Vehicles {
		idx[v.VehicleNo] = i
	}
	return &provider{
		log:      logger,
		vehicles: idx,
		fleet:    f.Vehicles,
		interval: interval,
		tokenTTL: tokenTTL,
		now:      time.Now,
		tokens:   make(map[string]time.Time),
	}
}

func (p *provider) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gettoken", p.tokenHandler)
	mux.HandleFunc("POST /listvehicledevicemapping", p.authorized(p.vehiclesHandler))
	mux.HandleFunc("POST /getbatterymetricshistory", p.authorized(p.batteryHandler))
	mux.HandleFunc("POST /getgpshistory", p.authorized(p.gpsHandler))
	return mux
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,gosec // best-effort write to HTTP response in mock server
	json.NewEncoder(w).Encode(env)
}

func (p *provider) tokenHandler(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		p.log.Warn("token request without credentials")
		writeEnvelope(w, http.StatusOK, envelope{Status: statusFailed, Message: "invalid credentials"})
		return
	}

	token := "mock-token-" + strconv.FormatInt(p.seq.Add(1), 10)
	p.mu.Lock()
	p.tokens[token] = p.now().Add(p.tokenTTL)
	p.mu.Unlock()

	writeEnvelope(w, http.StatusOK, envelope{Status: statusSuccess, Data: map[string]string{"token": token}})
	p.log.Info("issued mock token", "user", creds.Username)
}

// authorized decodes the request body and rejects unknown or expired tokens
// with a 401.
func (p *provider) authorized(next func(http.ResponseWriter, historyRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req historyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, envelope{Status: statusFailed, Message: "malformed request body"})
			return
		}

		p.mu.Lock()
		expiry, ok := p.tokens[req.Token]
		if ok && !p.now().Before(expiry) {
			delete(p.tokens, req.Token)
			ok = false
		}
		p.mu.Unlock()

		if !ok {
			writeEnvelope(w, http.StatusUnauthorized, envelope{Status: statusFailed, Message: "token expired"})
			return
		}
		next(w, req)
	}
}

func (p *provider) vehiclesHandler(w http.ResponseWriter, _ historyRequest) {
	out := make([]map[string]string, 0, len(p.fleet))
	for _, v := range p.fleet {
		out = append(out, map[string]string{"vehicleno": v.VehicleNo, "deviceno": v.DeviceNo})
	}
	writeEnvelope(w, http.StatusOK, envelope{Status: statusSuccess, Data: out})
}

func (p *provider) batteryHandler(w http.ResponseWriter, req historyRequest) {
	p.history(w, req, func(v vehicle, phase float64, t time.Time) map[string]any {
		soc := batterySOC(v, phase)
		current := 35 * math.Cos(phase/4)
		return map[string]any{
			"time":      t.UnixMilli(),
			"batteryid": "BAT-" + v.DeviceNo,
			"bms1soc":   round(soc),
			"bms1soh":   v.SOH,
			"bms1v":     round(44 + soc*0.1),
			"bms1c":     round(current),
			"bms1temp":  round(30 + 8*math.Sin(phase/6)),
		}
	})
}

func (p *provider) gpsHandler(w http.ResponseWriter, req historyRequest) {
	p.history(w, req, func(v vehicle, phase float64, t time.Time) map[string]any {
		speed := math.Max(0, 40*math.Sin(phase))
		return map[string]any{
			"time":       t.UnixMilli(),
			"latitude":   v.Lat + 0.01*math.Sin(phase/3),
			"longitude":  v.Lng + 0.01*math.Cos(phase/3),
			"speed":      round(speed),
			"heading":    math.Mod(phase*57.3, 360),
			"ignstatus":  speed > 0,
			"devbattery": 4.1,
			"carbattery": 12.6,
		}
	})
}

// history emits one record per interval in [starttime, min(endtime, now)].
// Unknown vehicles get an empty series.
func (p *provider) history(
	w http.ResponseWriter,
	req historyRequest,
	record func(v vehicle, phase float64, t time.Time) map[string]any,
) {
	i, ok := p.vehicles[req.VehicleNo]
	if !ok {
		writeEnvelope(w, http.StatusOK, envelope{Status: statusSuccess, Data: []any{}})
		return
	}
	v := p.fleet[i]

	end := time.UnixMilli(req.EndTime)
	if now := p.now(); end.After(now) {
		end = now
	}

	out := make([]map[string]any, 0)
	for t := time.UnixMilli(req.StartTime).Truncate(p.interval); !t.After(end); t = t.Add(p.interval) {
		if t.UnixMilli() < req.StartTime {
			continue
		}
		if len(out) == maxRecords {
			break
		}
		phase := float64(t.Unix())/3600 + float64(i)
		out = append(out, record(v, phase, t))
	}

	writeEnvelope(w, http.StatusOK, envelope{Status: statusSuccess, Data: out})
	p.log.Info("history", "vehicle", req.VehicleNo, "records", len(out))
}

// batterySOC oscillates around the vehicle's base charge, clamped to [1, 100].
func batterySOC(v vehicle, phase float64) float64 {
	return math.Min(100, math.Max(1, v.BaseSOC+25*math.Sin(phase/4)))
}

func round(f float64) float64 {
	return math.Round(f*10) / 10
}
