package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cfg := domain.DefaultAlertConfig()

	tests := []struct {
		name    string
		reading domain.BatteryReading
		want    []domain.BatteryAlert
	}{
		{
			name:    "healthy reading",
			reading: domain.BatteryReading{SOC: ptr(60.0), Temperature: ptr(30.0), Voltage: ptr(51.0)},
		},
		{
			name:    "critical temperature wins over warning",
			reading: domain.BatteryReading{Temperature: ptr(57.0)},
			want: []domain.BatteryAlert{{
				AlertType: domain.AlertHighTemperature, Severity: domain.SeverityCritical,
				Message: "Critical battery temperature detected: 57°C", ReadingValue: 57, ThresholdValue: ptr(55.0),
			}},
		},
		{
			name:    "elevated temperature",
			reading: domain.BatteryReading{Temperature: ptr(47.0)},
			want: []domain.BatteryAlert{{
				AlertType: domain.AlertHighTemperature, Severity: domain.SeverityWarning,
				Message: "Elevated battery temperature detected: 47°C", ReadingValue: 47, ThresholdValue: ptr(45.0),
			}},
		},
		{
			name:    "critically low soc",
			reading: domain.BatteryReading{SOC: ptr(3.0)},
			want: []domain.BatteryAlert{{
				AlertType: domain.AlertLowSOC, Severity: domain.SeverityCritical,
				Message: "Battery critically low: 3%", ReadingValue: 3, ThresholdValue: ptr(5.0),
			}},
		},
		{
			name:    "low soc warning",
			reading: domain.BatteryReading{SOC: ptr(12.0)},
			want: []domain.BatteryAlert{{
				AlertType: domain.AlertLowSOC, Severity: domain.SeverityWarning,
				Message: "Battery low: 12%", ReadingValue: 12, ThresholdValue: ptr(15.0),
			}},
		},
		{
			name:    "empty battery raises low soc and deep discharge",
			reading: domain.BatteryReading{SOC: ptr(0.0)},
			want: []domain.BatteryAlert{
				{
					AlertType: domain.AlertLowSOC, Severity: domain.SeverityCritical,
					Message: "Battery critically low: 0%", ReadingValue: 0, ThresholdValue: ptr(5.0),
				},
				{
					AlertType: domain.AlertDeepDischarge, Severity: domain.SeverityCritical,
					Message: "Deep Discharge SOC (%) breached: 0 (threshold 0)", ReadingValue: 0, ThresholdValue: ptr(0.0),
				},
			},
		},
		{
			name:    "overvoltage uses the generic message",
			reading: domain.BatteryReading{Voltage: ptr(60.0)},
			want: []domain.BatteryAlert{{
				AlertType: domain.AlertOvervoltage, Severity: domain.SeverityWarning,
				Message: "Overvoltage (V) breached: 60 (threshold 58.4)", ReadingValue: 60, ThresholdValue: ptr(58.4),
			}},
		},
		{
			name:    "overcurrent compares magnitude",
			reading: domain.BatteryReading{Current: ptr(-120.0)},
			want: []domain.BatteryAlert{{
				AlertType: domain.AlertOvercurrent, Severity: domain.SeverityWarning,
				Message: "Overcurrent (A) breached: -120 (threshold 100)", ReadingValue: -120, ThresholdValue: ptr(100.0),
			}},
		},
		{
			name:    "one alert per type",
			reading: domain.BatteryReading{Temperature: ptr(50.0), SOC: ptr(10.0), ChargeCycle: ptr(1600)},
			want: []domain.BatteryAlert{
				{
					AlertType: domain.AlertHighTemperature, Severity: domain.SeverityWarning,
					Message: "Elevated battery temperature detected: 50°C", ReadingValue: 50, ThresholdValue: ptr(45.0),
				},
				{
					AlertType: domain.AlertLowSOC, Severity: domain.SeverityWarning,
					Message: "Battery low: 10%", ReadingValue: 10, ThresholdValue: ptr(15.0),
				},
				{
					AlertType: domain.AlertExcessiveCycles, Severity: domain.SeverityInfo,
					Message: "Excessive Charge Cycles breached: 1600 (threshold 1500)", ReadingValue: 1600, ThresholdValue: ptr(1500.0),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := tt.reading
			r.DeviceID = "D1"
			got := Evaluate(cfg, &r, t0)

			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				want := tt.want[i]
				want.DeviceID = "D1"
				want.CreatedAt = t0
				assert.Equal(t, want, got[i])
			}
		})
	}
}

func TestEvaluate_MissingKeysSkipped(t *testing.T) {
	t.Parallel()

	cfg := domain.AlertConfig{
		domain.KeyHighTempWarning: {Value: 40, Severity: domain.SeverityWarning, Label: "Warm"},
	}
	r := domain.BatteryReading{DeviceID: "D1", Temperature: ptr(70.0), SOC: ptr(1.0)}

	got := Evaluate(cfg, &r, t0)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SeverityWarning, got[0].Severity)
}

func newTestAlertEngine(s store.Store, n *fakeNotifier, clk *clock) *AlertEngine {
	e := NewAlertEngine(s, nil, WithAlertNowFunc(clk.Now), WithAlertLogger(quietLogger()))
	if n != nil {
		e.notifier = n
	}
	return e
}

func TestAlertEngine_Process_Cooldown(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	clk := newClock(t0)
	e := newTestAlertEngine(s, nil, clk)
	ctx := context.Background()
	hot := []domain.BatteryReading{{DeviceID: "D1", Time: t0, Temperature: ptr(57.0)}}

	created, err := e.Process(ctx, hot)
	require.NoError(t, err)
	require.Len(t, created, 1)

	created, err = e.Process(ctx, hot)
	require.NoError(t, err)
	assert.Empty(t, created, "second batch inside cooldown is suppressed")

	clk.Advance(16 * time.Minute)
	created, err = e.Process(ctx, hot)
	require.NoError(t, err)
	assert.Len(t, created, 1, "a new alert after the cooldown elapses")

	all, err := s.ListAlerts(ctx, &store.AlertQuery{Scope: domain.OwnerScope()})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAlertEngine_Process_AcknowledgementDoesNotResetCooldown(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	clk := newClock(t0)
	e := newTestAlertEngine(s, nil, clk)
	ctx := context.Background()
	low := []domain.BatteryReading{{DeviceID: "D1", Time: t0, SOC: ptr(3.0)}}

	created, err := e.Process(ctx, low)
	require.NoError(t, err)
	require.Len(t, created, 1)

	_, err = s.AcknowledgeAlert(ctx, &store.Acknowledgement{
		AlertID: created[0].ID, Scope: domain.OwnerScope(), By: "ops", At: t0,
	})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	created, err = e.Process(ctx, low)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestAlertEngine_Process_DeepDischargeKeepsLowSOCKey(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	clk := newClock(t0)
	e := newTestAlertEngine(s, nil, clk)
	ctx := context.Background()

	created, err := e.Process(ctx, []domain.BatteryReading{{DeviceID: "D1", Time: t0, SOC: ptr(3.0)}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, domain.AlertLowSOC, created[0].AlertType)

	clk.Advance(time.Minute)
	created, err = e.Process(ctx, []domain.BatteryReading{{DeviceID: "D1", Time: t0.Add(time.Minute), SOC: ptr(0.0)}})
	require.NoError(t, err)
	require.Len(t, created, 1, "low soc stays suppressed inside the cooldown")
	assert.Equal(t, domain.AlertDeepDischarge, created[0].AlertType)

	all, err := s.ListAlerts(ctx, &store.AlertQuery{Scope: domain.OwnerScope()})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAlertEngine_Process_SameKeyInBatchCollapses(t *testing.T) {
	t.Parallel()

	e := newTestAlertEngine(store.NewMemoryStore(), nil, newClock(t0))
	created, err := e.Process(context.Background(), []domain.BatteryReading{
		{DeviceID: "D1", Time: t0, SOC: ptr(3.0)},
		{DeviceID: "D1", Time: t0.Add(time.Second), SOC: ptr(2.0)},
		{DeviceID: "D2", Time: t0, SOC: ptr(2.0)},
	})
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestAlertEngine_Process_ConfigFailureUsesDefaults(t *testing.T) {
	t.Parallel()

	s := newFlakyStore()
	s.alertConfigErr = errors.New("config table missing")
	e := newTestAlertEngine(s, nil, newClock(t0))

	created, err := e.Process(context.Background(), []domain.BatteryReading{
		{DeviceID: "D1", Time: t0, Temperature: ptr(47.0)},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, domain.SeverityWarning, created[0].Severity)
}

func TestAlertEngine_Process_UsesStoredConfig(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	cfg := domain.DefaultAlertConfig()
	cfg[domain.KeyHighTempWarning] = domain.Threshold{Value: 40, Severity: domain.SeverityWarning, Label: "Warm"}
	require.NoError(t, s.SetAlertConfig(context.Background(), cfg))

	e := newTestAlertEngine(s, nil, newClock(t0))
	created, err := e.Process(context.Background(), []domain.BatteryReading{
		{DeviceID: "D1", Time: t0, Temperature: ptr(42.0)},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.InDelta(t, 40.0, *created[0].ThresholdValue, 1e-9)
}

func TestAlertEngine_Notifications(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	require.NoError(t, s.UpsertDeviceMappings(context.Background(), []domain.DeviceBatteryMap{
		{DeviceID: "D1", VehicleNumber: ptr("KA-01"), CustomerName: ptr("Acme"), IsActive: true},
	}))
	n := &fakeNotifier{}
	e := newTestAlertEngine(s, n, newClock(t0))

	// Six metrics breached on one device go out as one batch.
	_, err := e.Process(context.Background(), []domain.BatteryReading{{
		DeviceID: "D1", Time: t0,
		Temperature: ptr(60.0), SOC: ptr(3.0), Voltage: ptr(60.0),
		Current: ptr(120.0), SOH: ptr(70.0), ChargeCycle: ptr(2000),
	}})
	require.NoError(t, err)
	require.Len(t, n.batches, 1)
	assert.Len(t, n.batches[0], 6)
	assert.Equal(t, "KA-01", n.batches[0][0].VehicleNumber)
	assert.Equal(t, "Acme", n.batches[0][0].CustomerName)
	assert.Empty(t, n.singles)

	// A single alert on an unmapped device goes out alone.
	_, err = e.Process(context.Background(), []domain.BatteryReading{
		{DeviceID: "D9", Time: t0, SOC: ptr(12.0)},
	})
	require.NoError(t, err)
	require.Len(t, n.singles, 1)
	assert.Equal(t, "D9", n.singles[0].DeviceID)
	assert.Empty(t, n.singles[0].VehicleNumber)
}

func TestAlertEngine_NotificationFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{err: errors.New("webhook down")}
	e := newTestAlertEngine(store.NewMemoryStore(), n, newClock(t0))

	created, err := e.Process(context.Background(), []domain.BatteryReading{
		{DeviceID: "D1", Time: t0, SOC: ptr(3.0)},
	})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestAlertEngine_RunHealthChecks(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()
	clk := newClock(t0)

	require.NoError(t, s.UpsertDeviceMappings(ctx, []domain.DeviceBatteryMap{
		{DeviceID: "D1", IsActive: true},
		{DeviceID: "D2", IsActive: true},
		{DeviceID: "D3", IsActive: false},
	}))
	_, err := s.InsertBatteryReadings(ctx, []domain.BatteryReading{
		{DeviceID: "D1", Time: t0.Add(-20 * 24 * time.Hour), SOH: ptr(90.0)},
		{DeviceID: "D1", Time: t0.Add(-10 * time.Hour), SOH: ptr(84.0)},
		{DeviceID: "D2", Time: t0.Add(-time.Hour), SOH: ptr(95.0)},
		{DeviceID: "D3", Time: t0.Add(-48 * time.Hour), SOH: ptr(95.0)},
	})
	require.NoError(t, err)

	e := newTestAlertEngine(s, nil, clk)
	n, err := e.RunHealthChecks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	alerts, err := s.ListAlerts(ctx, &store.AlertQuery{Scope: domain.OwnerScope()})
	require.NoError(t, err)
	types := make(map[string]domain.BatteryAlert)
	for _, a := range alerts {
		assert.Equal(t, "D1", a.DeviceID)
		types[a.AlertType] = a
	}
	require.Contains(t, types, domain.AlertNoCommunication)
	require.Contains(t, types, domain.AlertRapidSOHDrop)
	assert.Equal(t, "No data received for 10.0 hours", types[domain.AlertNoCommunication].Message)
	assert.InDelta(t, 6.0, types[domain.AlertRapidSOHDrop].ReadingValue, 1e-9)
	assert.Equal(t, domain.SeverityCritical, types[domain.AlertRapidSOHDrop].Severity)

	// Rerunning within the cooldown creates nothing.
	n, err = e.RunHealthChecks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
