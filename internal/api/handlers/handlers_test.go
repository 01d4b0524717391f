package handlers_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"

	"github.com/donaldgifford/fleet-telemetry/internal/api/handlers"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const (
	ownerHdr   = "X-Fleet-Role: owner"
	dealerHdr  = "X-Fleet-Role: dealer"
	dealerAHdr = "X-Fleet-Dealer-ID: dealer-a"
	dealerBHdr = "X-Fleet-Dealer-ID: dealer-b"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() handlers.Clock {
	return func() time.Time { return t0 }
}

// seededStore maps dev-a to dealer-a and dev-b to dealer-b, each with one
// battery reading ten minutes before t0.
func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()

	s := store.NewMemoryStore()
	s.SetClock(fixedClock())
	ctx := t.Context()

	if err := s.UpsertDeviceMappings(ctx, []domain.DeviceBatteryMap{
		{DeviceID: "dev-a", DealerID: ptr("dealer-a"), VehicleNumber: ptr("KA-01"), IsActive: true},
		{DeviceID: "dev-b", DealerID: ptr("dealer-b"), VehicleNumber: ptr("KA-02"), IsActive: true},
	}); err != nil {
		t.Fatalf("seeding mappings: %v", err)
	}
	if _, err := s.InsertBatteryReadings(ctx, []domain.BatteryReading{
		{Time: t0.Add(-10 * time.Minute), DeviceID: "dev-a", SOC: ptr(80.0), SOH: ptr(96.0), Current: ptr(12.0)},
		{Time: t0.Add(-10 * time.Minute), DeviceID: "dev-b", SOC: ptr(40.0), SOH: ptr(90.0), Current: ptr(-5.0)},
	}); err != nil {
		t.Fatalf("seeding readings: %v", err)
	}
	return s
}

func newAPI(t *testing.T) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	return api
}
