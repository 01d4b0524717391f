// Package domain defines the core business types for fleet battery telemetry.
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist
// (or is not visible to the caller's scope).
var ErrNotFound = errors.New("not found")

// ReadingType identifies the kind of telemetry a rejected record came from.
type ReadingType string

// Reading type constants.
const (
	ReadingCAN ReadingType = "can"
	ReadingGPS ReadingType = "gps"
)

// BatteryReading is a single CAN battery sample. The natural key is
// (Time, DeviceID); rows are immutable once written.
type BatteryReading struct {
	Time        time.Time `json:"time"                   db:"time"`
	DeviceID    string    `json:"device_id"              db:"device_id"`
	BatteryID   *string   `json:"battery_id,omitempty"   db:"battery_id"`
	SOC         *float64  `json:"soc,omitempty"          db:"soc"`
	SOH         *float64  `json:"soh,omitempty"          db:"soh"`
	Voltage     *float64  `json:"voltage,omitempty"      db:"voltage"`
	Current     *float64  `json:"current,omitempty"      db:"current"`
	ChargeCycle *int      `json:"charge_cycle,omitempty" db:"charge_cycle"`
	Temperature *float64  `json:"temperature,omitempty"  db:"temperature"`
	PowerWatts  *float64  `json:"power_watts,omitempty"  db:"power_watts"`
	Source      string    `json:"source,omitempty"       db:"source"`

	// Raw holds the payload as received, kept for the rejection audit trail.
	Raw json.RawMessage `json:"-" db:"-"`
}

// Empty reports whether the reading carries no battery metrics at all.
func (r *BatteryReading) Empty() bool {
	return r.SOC == nil && r.SOH == nil && r.Voltage == nil && r.Current == nil &&
		r.ChargeCycle == nil && r.Temperature == nil && r.PowerWatts == nil
}

// Payload returns the raw payload if one was captured, otherwise the
// reading re-encoded as JSON.
func (r *BatteryReading) Payload() json.RawMessage {
	if len(r.Raw) > 0 {
		return r.Raw
	}
	b, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// GPSReading is a single position sample. IsMoving is derived from Speed.
type GPSReading struct {
	Time           time.Time `json:"time"                      db:"time"`
	DeviceID       string    `json:"device_id"                 db:"device_id"`
	Latitude       *float64  `json:"latitude"                  db:"latitude"`
	Longitude      *float64  `json:"longitude"                 db:"longitude"`
	Altitude       *float64  `json:"altitude,omitempty"        db:"altitude"`
	Speed          *float64  `json:"speed,omitempty"           db:"speed"`
	Heading        *float64  `json:"heading,omitempty"         db:"heading"`
	DeviceBattery  *float64  `json:"device_battery,omitempty"  db:"device_battery"`
	VehicleBattery *float64  `json:"vehicle_battery,omitempty" db:"vehicle_battery"`
	IgnitionOn     *bool     `json:"ignition_on,omitempty"     db:"ignition_on"`
	IsMoving       bool      `json:"is_moving"                 db:"is_moving"`

	Raw json.RawMessage `json:"-" db:"-"`
}

// DeriveMotion sets IsMoving from the reported speed.
func (g *GPSReading) DeriveMotion() {
	g.IsMoving = g.Speed != nil && *g.Speed > 0
}

// Payload mirrors BatteryReading.Payload.
func (g *GPSReading) Payload() json.RawMessage {
	if len(g.Raw) > 0 {
		return g.Raw
	}
	b, err := json.Marshal(g)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// TripSummary is a pre-aggregated trip reported by the provider.
type TripSummary struct {
	DeviceID         string    `json:"device_id"                    db:"device_id"`
	StartTime        time.Time `json:"start_time"                   db:"start_time"`
	EndTime          time.Time `json:"end_time"                     db:"end_time"`
	DistanceKM       *float64  `json:"distance_km,omitempty"        db:"distance_km"`
	DurationMinutes  *float64  `json:"duration_minutes,omitempty"   db:"duration_minutes"`
	StartSOC         *float64  `json:"start_soc,omitempty"          db:"start_soc"`
	EndSOC           *float64  `json:"end_soc,omitempty"            db:"end_soc"`
	EnergyConsumedWh *float64  `json:"energy_consumed_wh,omitempty" db:"energy_consumed_wh"`
	AvgSpeed         *float64  `json:"avg_speed,omitempty"          db:"avg_speed"`
	MaxSpeed         *float64  `json:"max_speed,omitempty"          db:"max_speed"`
	StartLatitude    *float64  `json:"start_lat,omitempty"          db:"start_lat"`
	StartLongitude   *float64  `json:"start_lng,omitempty"          db:"start_lng"`
	EndLatitude      *float64  `json:"end_lat,omitempty"            db:"end_lat"`
	EndLongitude     *float64  `json:"end_lng,omitempty"            db:"end_lng"`
}

// EnergySummary is a pre-aggregated energy window reported by the provider.
type EnergySummary struct {
	DeviceID          string    `json:"device_id"                     db:"device_id"`
	StartTime         time.Time `json:"start_time"                    db:"start_time"`
	EndTime           time.Time `json:"end_time"                      db:"end_time"`
	EnergyWh          *float64  `json:"energy_wh,omitempty"           db:"energy_wh"`
	DistanceKM        *float64  `json:"distance_km,omitempty"         db:"distance_km"`
	EfficiencyWhPerKM *float64  `json:"efficiency_wh_per_km,omitempty" db:"efficiency_wh_per_km"`
	ChargeEnergyWh    *float64  `json:"charge_energy_wh,omitempty"    db:"charge_energy_wh"`
	DischargeEnergyWh *float64  `json:"discharge_energy_wh,omitempty" db:"discharge_energy_wh"`
}

// RejectedReading is an audit record for a reading that failed validation.
type RejectedReading struct {
	Time        time.Time       `json:"time"         db:"time"`
	DeviceID    string          `json:"device_id"    db:"device_id"`
	ReadingType ReadingType     `json:"reading_type" db:"reading_type"`
	Payload     json.RawMessage `json:"payload"      db:"payload"`
	Reason      string          `json:"error_reason" db:"error_reason"`
}

// DeviceBatteryMap links a telematics device to a battery and its owning dealer.
type DeviceBatteryMap struct {
	DeviceID      string     `json:"device_id"                db:"device_id"`
	BatterySerial *string    `json:"battery_serial,omitempty" db:"battery_serial"`
	VehicleNumber *string    `json:"vehicle_number,omitempty" db:"vehicle_number"`
	DealerID      *string    `json:"dealer_id,omitempty"      db:"dealer_id"`
	CustomerName  *string    `json:"customer_name,omitempty"  db:"customer_name"`
	CustomerPhone *string    `json:"customer_phone,omitempty" db:"customer_phone"`
	IsActive      bool       `json:"is_active"                db:"is_active"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"   db:"activated_at"`
}

// DeviceSummary is a fleet listing row: mapping data plus the latest reading.
type DeviceSummary struct {
	DeviceBatteryMap
	LastSeen    *time.Time `json:"last_seen,omitempty"   db:"last_seen"`
	SOC         *float64   `json:"soc,omitempty"         db:"soc"`
	SOH         *float64   `json:"soh,omitempty"         db:"soh"`
	Voltage     *float64   `json:"voltage,omitempty"     db:"voltage"`
	Temperature *float64   `json:"temperature,omitempty" db:"temperature"`
}

// Bucket is an aggregation width.
type Bucket string

// Supported aggregation widths.
const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
)

// Valid reports whether b is a supported width.
func (b Bucket) Valid() bool {
	return b == BucketHour || b == BucketDay
}

// Duration returns the bucket width.
func (b Bucket) Duration() time.Duration {
	if b == BucketDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Aggregate is a per-device rollup over one time bucket. It is derived from
// BatteryReading and may be recomputed at any time.
type Aggregate struct {
	Bucket         time.Time `json:"bucket"                    db:"bucket"`
	DeviceID       string    `json:"device_id"                 db:"device_id"`
	AvgSOC         *float64  `json:"avg_soc,omitempty"         db:"avg_soc"`
	MinSOC         *float64  `json:"min_soc,omitempty"         db:"min_soc"`
	MaxSOC         *float64  `json:"max_soc,omitempty"         db:"max_soc"`
	AvgSOH         *float64  `json:"avg_soh,omitempty"         db:"avg_soh"`
	MinSOH         *float64  `json:"min_soh,omitempty"         db:"min_soh"`
	MaxSOH         *float64  `json:"max_soh,omitempty"         db:"max_soh"`
	AvgVoltage     *float64  `json:"avg_voltage,omitempty"     db:"avg_voltage"`
	MinVoltage     *float64  `json:"min_voltage,omitempty"     db:"min_voltage"`
	MaxVoltage     *float64  `json:"max_voltage,omitempty"     db:"max_voltage"`
	AvgCurrent     *float64  `json:"avg_current,omitempty"     db:"avg_current"`
	MinCurrent     *float64  `json:"min_current,omitempty"     db:"min_current"`
	MaxCurrent     *float64  `json:"max_current,omitempty"     db:"max_current"`
	AvgTemperature *float64  `json:"avg_temperature,omitempty" db:"avg_temperature"`
	MinTemperature *float64  `json:"min_temperature,omitempty" db:"min_temperature"`
	MaxTemperature *float64  `json:"max_temperature,omitempty" db:"max_temperature"`
	MaxChargeCycle *int      `json:"max_charge_cycle,omitempty" db:"max_charge_cycle"`
	ReadingCount   int       `json:"reading_count"             db:"reading_count"`
}

// SOCTrendPoint is one day of fleet-wide average state of charge.
type SOCTrendPoint struct {
	Day         time.Time `json:"day"          db:"day"`
	AvgSOC      float64   `json:"avg_soc"      db:"avg_soc"`
	DeviceCount int       `json:"device_count" db:"device_count"`
}

// FleetOverview summarizes the visible fleet for dashboard KPI cards.
type FleetOverview struct {
	ActiveBatteries int     `json:"active_batteries"`
	AvgSOH          float64 `json:"avg_soh"`
	ChargingNow     int     `json:"charging_now"`
	ActiveAlerts    int     `json:"active_alerts"`
}

// JobRun records a single execution of a scheduled job.
type JobRun struct {
	ID           string     `json:"id"                      db:"id"`
	JobName      string     `json:"job_name"                db:"job_name"`
	StartedAt    time.Time  `json:"started_at"              db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"  db:"completed_at"`
	Status       string     `json:"status"                  db:"status"`
	ErrorText    string     `json:"error_text,omitempty"    db:"error_text"`
	RowsAffected *int       `json:"rows_affected,omitempty" db:"rows_affected"`
}

// Job run status values.
const (
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCrashed   = "crashed"
)
