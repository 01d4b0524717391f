package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/donaldgifford/fleet-telemetry/internal/notify"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	"github.com/donaldgifford/fleet-telemetry/internal/telematics"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

// clock is a settable time source shared by the engine and the store.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *clock { return &clock{now: at} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore wraps MemoryStore and injects failures.
type flakyStore struct {
	*store.MemoryStore

	mu              sync.Mutex
	insertFailures  int
	insertErr       error
	insertCalls     int
	alertConfigErr  error
	auditErr        error
	refreshErr      error
	refreshedWindow [2]time.Time
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *flakyStore) InsertBatteryReadings(ctx context.Context, batch []domain.BatteryReading) (int, error) {
	s.mu.Lock()
	s.insertCalls++
	if s.insertFailures > 0 {
		s.insertFailures--
		err := s.insertErr
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()
	return s.MemoryStore.InsertBatteryReadings(ctx, batch)
}

func (s *flakyStore) InsertRejectedReadings(ctx context.Context, batch []domain.RejectedReading) error {
	if s.auditErr != nil {
		return s.auditErr
	}
	return s.MemoryStore.InsertRejectedReadings(ctx, batch)
}

func (s *flakyStore) GetAlertConfig(ctx context.Context) (domain.AlertConfig, error) {
	if s.alertConfigErr != nil {
		return nil, s.alertConfigErr
	}
	return s.MemoryStore.GetAlertConfig(ctx)
}

func (s *flakyStore) RefreshAggregates(ctx context.Context, from, to time.Time) error {
	s.mu.Lock()
	s.refreshedWindow = [2]time.Time{from, to}
	s.mu.Unlock()
	if s.refreshErr != nil {
		return s.refreshErr
	}
	return s.MemoryStore.RefreshAggregates(ctx, from, to)
}

// fakeNotifier records what it was asked to send.
type fakeNotifier struct {
	mu      sync.Mutex
	singles []notify.AlertPayload
	batches [][]notify.AlertPayload
	err     error
}

func (n *fakeNotifier) SendAlert(_ context.Context, alert *notify.AlertPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.singles = append(n.singles, *alert)
	return n.err
}

func (n *fakeNotifier) SendBatchAlert(_ context.Context, alerts []notify.AlertPayload, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, alerts)
	return n.err
}

// fakeCache records readings written to the latest-reading cache.
type fakeCache struct {
	mu      sync.Mutex
	battery []domain.BatteryReading
	gps     []domain.GPSReading
	err     error
}

func (c *fakeCache) PutBattery(_ context.Context, readings []domain.BatteryReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.battery = append(c.battery, readings...)
	return c.err
}

func (c *fakeCache) PutGPS(_ context.Context, readings []domain.GPSReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gps = append(c.gps, readings...)
	return c.err
}

// fakeSource serves canned provider history.
type fakeSource struct {
	mu       sync.Mutex
	devices  []telematics.Device
	listErr  error
	battery  map[string][]domain.BatteryReading
	gps      map[string][]domain.GPSReading
	failures map[string]error
	windows  [][2]time.Time
}

func (s *fakeSource) ListDevices(context.Context) ([]telematics.Device, error) {
	return s.devices, s.listErr
}

func (s *fakeSource) BatteryHistory(_ context.Context, id string, from, to time.Time) ([]domain.BatteryReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, [2]time.Time{from, to})
	if err := s.failures[id]; err != nil {
		return nil, err
	}
	return s.battery[id], nil
}

func (s *fakeSource) GPSHistory(_ context.Context, id string, _, _ time.Time) ([]domain.GPSReading, error) {
	return s.gps[id], nil
}
