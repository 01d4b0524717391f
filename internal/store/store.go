// Package store defines the datastore abstraction for fleet-telemetry.
// All business logic depends on the Store interface, never on concrete
// implementations. PostgresStore backs production; MemoryStore backs local
// development and tests.
package store

import (
	"context"
	"errors"
	"time"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// ErrAggregatesUnavailable is returned by RefreshAggregates when the
// database has no continuous aggregates to refresh.
var ErrAggregatesUnavailable = errors.New("continuous aggregates unavailable")

// RangeQuery selects readings for one device in [From, To).
type RangeQuery struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int // default 1000, max 5000
}

// AggregateQuery selects rollups for one device with buckets in [From, To).
type AggregateQuery struct {
	DeviceID string
	Bucket   domain.Bucket
	From     time.Time
	To       time.Time
}

// DeviceQuery pages through mapped devices visible in Scope.
type DeviceQuery struct {
	Scope  domain.Scope
	Limit  int // default 50, max 200
	Offset int
}

// AlertQuery filters the alert list. Scope is always applied.
type AlertQuery struct {
	Scope        domain.Scope
	Acknowledged *bool
	DeviceID     *string
	Limit        int // default 20, max 500
}

// Acknowledgement records who resolved an alert and why.
type Acknowledgement struct {
	AlertID string
	Scope   domain.Scope
	By      string
	Notes   *string
	At      time.Time
}

// DeviceLastSeen is the latest reading time of a mapped device.
type DeviceLastSeen struct {
	DeviceID string
	LastSeen time.Time
}

// SOHChange is the change in daily average SOH for a device over a window.
type SOHChange struct {
	DeviceID string
	StartSOH float64
	EndSOH   float64
}

// Drop returns how many SOH points were lost over the window.
func (c SOHChange) Drop() float64 {
	return c.StartSOH - c.EndSOH
}

// Store defines all data access operations for fleet-telemetry.
type Store interface {
	// Readings
	InsertBatteryReadings(ctx context.Context, batch []domain.BatteryReading) (int, error)
	InsertGPSReadings(ctx context.Context, batch []domain.GPSReading) (int, error)
	InsertRejectedReadings(ctx context.Context, batch []domain.RejectedReading) error
	InsertTrips(ctx context.Context, batch []domain.TripSummary) (int, error)
	InsertEnergy(ctx context.Context, batch []domain.EnergySummary) (int, error)
	LatestBattery(ctx context.Context, deviceID string) (*domain.BatteryReading, error)
	LatestGPS(ctx context.Context, deviceID string) (*domain.GPSReading, error)
	RangeBattery(ctx context.Context, q *RangeQuery) ([]domain.BatteryReading, error)
	RangeGPS(ctx context.Context, q *RangeQuery) ([]domain.GPSReading, error)
	ListTrips(ctx context.Context, deviceID string, limit int) ([]domain.TripSummary, error)

	// Aggregates
	Aggregates(ctx context.Context, q *AggregateQuery) ([]domain.Aggregate, error)
	RefreshAggregates(ctx context.Context, from, to time.Time) error
	SOCTrend(ctx context.Context, scope domain.Scope, since time.Time) ([]domain.SOCTrendPoint, error)
	SOHChanges(ctx context.Context, since time.Time, minDrop float64) ([]SOHChange, error)

	// Devices
	UpsertDeviceMappings(ctx context.Context, maps []domain.DeviceBatteryMap) error
	GetDeviceMapping(ctx context.Context, deviceID string) (*domain.DeviceBatteryMap, error)
	ListDevices(ctx context.Context, q *DeviceQuery) ([]domain.DeviceSummary, int, error)
	StaleDevices(ctx context.Context, lastSeenBefore time.Time) ([]DeviceLastSeen, error)
	FleetOverview(ctx context.Context, scope domain.Scope, chargingSince time.Time) (*domain.FleetOverview, error)

	// Alerts
	InsertAlertsWithCooldown(
		ctx context.Context,
		candidates []domain.BatteryAlert,
		now time.Time,
		cooldown time.Duration,
	) ([]domain.BatteryAlert, error)
	ListAlerts(ctx context.Context, q *AlertQuery) ([]domain.BatteryAlert, error)
	AcknowledgeAlert(ctx context.Context, ack *Acknowledgement) (*domain.BatteryAlert, error)

	// Alert config
	GetAlertConfig(ctx context.Context) (domain.AlertConfig, error)
	SetAlertConfig(ctx context.Context, cfg domain.AlertConfig) error

	// Scheduler
	InsertJobRun(ctx context.Context, jobName string) (id string, err error)
	CompleteJobRun(ctx context.Context, id string, status string, errText string, rowsAffected int) error
	ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error)
	ListLatestJobRuns(ctx context.Context) ([]domain.JobRun, error)
	RecoverStaleJobRuns(ctx context.Context, olderThan time.Duration) (int, error)
	AcquireSchedulerLock(ctx context.Context, jobName string, holder string, ttl time.Duration) (bool, error)
	ReleaseSchedulerLock(ctx context.Context, jobName string, holder string) error

	// Migrations
	Migrate(ctx context.Context) error

	// Health
	Ping(ctx context.Context) error
}
