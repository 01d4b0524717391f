package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const defaultPoolSize = 10

// SQLSTATE codes that mean the continuous aggregates are not installed.
const (
	pgUndefinedTable    = "42P01"
	pgUndefinedFunction = "42883"
)

// aggregateViews maps bucket widths to their continuous aggregate.
var aggregateViews = map[domain.Bucket]string{
	domain.BucketHour: viewHourly,
	domain.BucketDay:  viewDaily,
}

// PostgresStore implements Store using pgxpool against PostgreSQL with the
// TimescaleDB extension. Every query degrades to plain PostgreSQL when the
// extension is missing.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore with connection pooling.
func NewPostgresStore(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	cfg.MaxConns = defaultPoolSize
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close gracefully shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies pending SQL schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := RunMigrations(ctx, s.pool)
	return err
}

// MigrationStatus lists embedded migrations with their applied times.
func (s *PostgresStore) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	return MigrationStatus(ctx, s.pool)
}

// InsertBatteryReadings writes the batch in one round trip. Rows whose
// (time, device_id) already exist are skipped; the return value counts
// rows actually inserted.
func (s *PostgresStore) InsertBatteryReadings(ctx context.Context, batch []domain.BatteryReading) (int, error) {
	b := &pgx.Batch{}
	for i := range batch {
		r := &batch[i]
		b.Queue(queryInsertBatteryReading, pgx.NamedArgs{
			"time":         r.Time,
			"device_id":    r.DeviceID,
			"battery_id":   r.BatteryID,
			"soc":          r.SOC,
			"soh":          r.SOH,
			"voltage":      r.Voltage,
			"current":      r.Current,
			"charge_cycle": r.ChargeCycle,
			"temperature":  r.Temperature,
			"power_watts":  r.PowerWatts,
			"source":       sourceOrDefault(r.Source),
		})
	}

	n, err := s.execBatch(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("inserting battery readings: %w", err)
	}
	return n, nil
}

// InsertGPSReadings writes GPS rows with the same insert-or-ignore rule.
func (s *PostgresStore) InsertGPSReadings(ctx context.Context, batch []domain.GPSReading) (int, error) {
	b := &pgx.Batch{}
	for i := range batch {
		g := &batch[i]
		b.Queue(queryInsertGPSReading, pgx.NamedArgs{
			"time":            g.Time,
			"device_id":       g.DeviceID,
			"latitude":        g.Latitude,
			"longitude":       g.Longitude,
			"altitude":        g.Altitude,
			"speed":           g.Speed,
			"heading":         g.Heading,
			"device_battery":  g.DeviceBattery,
			"vehicle_battery": g.VehicleBattery,
			"ignition_on":     g.IgnitionOn,
			"is_moving":       g.IsMoving,
		})
	}

	n, err := s.execBatch(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("inserting gps readings: %w", err)
	}
	return n, nil
}

// InsertRejectedReadings appends audit rows for readings that failed validation.
func (s *PostgresStore) InsertRejectedReadings(ctx context.Context, batch []domain.RejectedReading) error {
	b := &pgx.Batch{}
	for i := range batch {
		r := &batch[i]
		var at *time.Time
		if !r.Time.IsZero() {
			at = &r.Time
		}
		payload := r.Payload
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		b.Queue(queryInsertRejectedReading, at, r.DeviceID, string(r.ReadingType), payload, r.Reason)
	}

	if _, err := s.execBatch(ctx, b); err != nil {
		return fmt.Errorf("inserting rejected readings: %w", err)
	}
	return nil
}

// InsertTrips writes trip summaries; duplicates by (device_id, start_time) are skipped.
func (s *PostgresStore) InsertTrips(ctx context.Context, batch []domain.TripSummary) (int, error) {
	b := &pgx.Batch{}
	for i := range batch {
		t := &batch[i]
		b.Queue(queryInsertTrip, pgx.NamedArgs{
			"device_id":          t.DeviceID,
			"start_time":         t.StartTime,
			"end_time":           t.EndTime,
			"distance_km":        t.DistanceKM,
			"duration_minutes":   t.DurationMinutes,
			"start_soc":          t.StartSOC,
			"end_soc":            t.EndSOC,
			"energy_consumed_wh": t.EnergyConsumedWh,
			"avg_speed":          t.AvgSpeed,
			"max_speed":          t.MaxSpeed,
			"start_lat":          t.StartLatitude,
			"start_lng":          t.StartLongitude,
			"end_lat":            t.EndLatitude,
			"end_lng":            t.EndLongitude,
		})
	}

	n, err := s.execBatch(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("inserting trips: %w", err)
	}
	return n, nil
}

// InsertEnergy writes energy summaries; duplicates by (device_id, start_time) are skipped.
func (s *PostgresStore) InsertEnergy(ctx context.Context, batch []domain.EnergySummary) (int, error) {
	b := &pgx.Batch{}
	for i := range batch {
		e := &batch[i]
		b.Queue(queryInsertEnergy, pgx.NamedArgs{
			"device_id":            e.DeviceID,
			"start_time":           e.StartTime,
			"end_time":             e.EndTime,
			"energy_wh":            e.EnergyWh,
			"distance_km":          e.DistanceKM,
			"efficiency_wh_per_km": e.EfficiencyWhPerKM,
			"charge_energy_wh":     e.ChargeEnergyWh,
			"discharge_energy_wh":  e.DischargeEnergyWh,
		})
	}

	n, err := s.execBatch(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("inserting energy summaries: %w", err)
	}
	return n, nil
}

// LatestBattery returns the newest battery reading for a device.
func (s *PostgresStore) LatestBattery(ctx context.Context, deviceID string) (*domain.BatteryReading, error) {
	var r domain.BatteryReading
	err := scanBattery(s.pool.QueryRow(ctx, queryLatestBattery, deviceID), &r)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest battery reading: %w", err)
	}
	return &r, nil
}

// LatestGPS returns the newest GPS reading for a device.
func (s *PostgresStore) LatestGPS(ctx context.Context, deviceID string) (*domain.GPSReading, error) {
	var g domain.GPSReading
	err := scanGPS(s.pool.QueryRow(ctx, queryLatestGPS, deviceID), &g)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest gps reading: %w", err)
	}
	return &g, nil
}

// RangeBattery returns battery readings in [From, To) oldest first.
func (s *PostgresStore) RangeBattery(ctx context.Context, q *RangeQuery) ([]domain.BatteryReading, error) {
	limit := clamp(q.Limit, defaultRangeLimit, maxRangeLimit)
	rows, err := s.pool.Query(ctx, queryRangeBattery, q.DeviceID, q.From, q.To, limit)
	if err != nil {
		return nil, fmt.Errorf("querying battery readings: %w", err)
	}
	defer rows.Close()

	var out []domain.BatteryReading
	for rows.Next() {
		var r domain.BatteryReading
		if err := scanBattery(rows, &r); err != nil {
			return nil, fmt.Errorf("scanning battery reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RangeGPS returns GPS readings in [From, To) oldest first.
func (s *PostgresStore) RangeGPS(ctx context.Context, q *RangeQuery) ([]domain.GPSReading, error) {
	limit := clamp(q.Limit, defaultRangeLimit, maxRangeLimit)
	rows, err := s.pool.Query(ctx, queryRangeGPS, q.DeviceID, q.From, q.To, limit)
	if err != nil {
		return nil, fmt.Errorf("querying gps readings: %w", err)
	}
	defer rows.Close()

	var out []domain.GPSReading
	for rows.Next() {
		var g domain.GPSReading
		if err := scanGPS(rows, &g); err != nil {
			return nil, fmt.Errorf("scanning gps reading: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListTrips returns a device's most recent trips.
func (s *PostgresStore) ListTrips(ctx context.Context, deviceID string, limit int) ([]domain.TripSummary, error) {
	rows, err := s.pool.Query(ctx, queryListTrips, deviceID, clamp(limit, defaultTripLimit, maxTripLimit))
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	var out []domain.TripSummary
	for rows.Next() {
		var t domain.TripSummary
		if err := rows.Scan(
			&t.DeviceID, &t.StartTime, &t.EndTime, &t.DistanceKM, &t.DurationMinutes,
			&t.StartSOC, &t.EndSOC, &t.EnergyConsumedWh, &t.AvgSpeed, &t.MaxSpeed,
			&t.StartLatitude, &t.StartLongitude, &t.EndLatitude, &t.EndLongitude,
		); err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Aggregates reads rollups from the continuous aggregate for the bucket
// width. When the aggregate does not exist it groups raw readings instead;
// both paths produce the same buckets.
func (s *PostgresStore) Aggregates(ctx context.Context, q *AggregateQuery) ([]domain.Aggregate, error) {
	view, ok := aggregateViews[q.Bucket]
	if !ok {
		return nil, fmt.Errorf("unsupported bucket %q", q.Bucket)
	}

	aggs, err := s.queryAggregates(ctx, fmt.Sprintf(queryAggregatesView, view), q.DeviceID, q.From, q.To)
	if isMissingAggregate(err) {
		aggs, err = s.queryAggregates(ctx, queryAggregatesRaw,
			q.DeviceID, q.From, q.To, q.Bucket.Duration().Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s aggregates: %w", q.Bucket, err)
	}
	return aggs, nil
}

// RefreshAggregates materializes both continuous aggregates over [from, to).
func (s *PostgresStore) RefreshAggregates(ctx context.Context, from, to time.Time) error {
	for _, view := range []string{viewHourly, viewDaily} {
		_, err := s.pool.Exec(ctx, queryRefreshAggregate, view, from, to)
		if isMissingAggregate(err) {
			return ErrAggregatesUnavailable
		}
		if err != nil {
			return fmt.Errorf("refreshing %s: %w", view, err)
		}
	}
	return nil
}

// SOCTrend returns daily fleet-average SOC for days on or after since.
func (s *PostgresStore) SOCTrend(ctx context.Context, scope domain.Scope, since time.Time) ([]domain.SOCTrendPoint, error) {
	points, err := s.querySOCTrend(ctx, scope, since, true)
	if isMissingAggregate(err) {
		points, err = s.querySOCTrend(ctx, scope, since, false)
	}
	if err != nil {
		return nil, fmt.Errorf("querying soc trend: %w", err)
	}
	return points, nil
}

// SOHChanges returns devices whose daily average SOH fell by at least
// minDrop between the first and last day on or after since.
func (s *PostgresStore) SOHChanges(ctx context.Context, since time.Time, minDrop float64) ([]SOHChange, error) {
	changes, err := s.querySOHChanges(ctx, since, minDrop, true)
	if isMissingAggregate(err) {
		changes, err = s.querySOHChanges(ctx, since, minDrop, false)
	}
	if err != nil {
		return nil, fmt.Errorf("querying soh changes: %w", err)
	}
	return changes, nil
}

// UpsertDeviceMappings inserts or replaces device-to-battery mappings.
func (s *PostgresStore) UpsertDeviceMappings(ctx context.Context, maps []domain.DeviceBatteryMap) error {
	b := &pgx.Batch{}
	for i := range maps {
		m := &maps[i]
		b.Queue(queryUpsertDeviceMapping, pgx.NamedArgs{
			"device_id":      m.DeviceID,
			"battery_serial": m.BatterySerial,
			"vehicle_number": m.VehicleNumber,
			"dealer_id":      m.DealerID,
			"customer_name":  m.CustomerName,
			"customer_phone": m.CustomerPhone,
			"is_active":      m.IsActive,
			"activated_at":   m.ActivatedAt,
		})
	}

	if _, err := s.execBatch(ctx, b); err != nil {
		return fmt.Errorf("upserting device mappings: %w", err)
	}
	return nil
}

// GetDeviceMapping returns the mapping row for a device.
func (s *PostgresStore) GetDeviceMapping(ctx context.Context, deviceID string) (*domain.DeviceBatteryMap, error) {
	var m domain.DeviceBatteryMap
	err := s.pool.QueryRow(ctx, queryGetDeviceMapping, deviceID).Scan(
		&m.DeviceID, &m.BatterySerial, &m.VehicleNumber, &m.DealerID,
		&m.CustomerName, &m.CustomerPhone, &m.IsActive, &m.ActivatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device mapping: %w", err)
	}
	return &m, nil
}

// ListDevices pages through mapped devices visible in the query scope,
// returning the page and the total count.
func (s *PostgresStore) ListDevices(ctx context.Context, q *DeviceQuery) ([]domain.DeviceSummary, int, error) {
	dataSQL, countSQL, args := q.ToSQL()

	var total int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting devices: %w", err)
	}

	rows, err := s.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []domain.DeviceSummary
	for rows.Next() {
		var d domain.DeviceSummary
		if err := rows.Scan(
			&d.DeviceID, &d.BatterySerial, &d.VehicleNumber, &d.DealerID,
			&d.CustomerName, &d.CustomerPhone, &d.IsActive, &d.ActivatedAt,
			&d.LastSeen, &d.SOC, &d.SOH, &d.Voltage, &d.Temperature,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// StaleDevices returns active mapped devices whose latest reading is older
// than lastSeenBefore. Devices that never reported are not included.
func (s *PostgresStore) StaleDevices(ctx context.Context, lastSeenBefore time.Time) ([]DeviceLastSeen, error) {
	rows, err := s.pool.Query(ctx, queryStaleDevices, lastSeenBefore)
	if err != nil {
		return nil, fmt.Errorf("querying stale devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceLastSeen
	for rows.Next() {
		var d DeviceLastSeen
		if err := rows.Scan(&d.DeviceID, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning stale device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FleetOverview computes dashboard KPIs for the scope.
func (s *PostgresStore) FleetOverview(
	ctx context.Context,
	scope domain.Scope,
	chargingSince time.Time,
) (*domain.FleetOverview, error) {
	query, args := overviewSQL(scope, chargingSince)

	var o domain.FleetOverview
	if err := s.pool.QueryRow(ctx, query, args...).Scan(
		&o.ActiveBatteries, &o.AvgSOH, &o.ChargingNow, &o.ActiveAlerts,
	); err != nil {
		return nil, fmt.Errorf("querying fleet overview: %w", err)
	}
	return &o, nil
}

// InsertAlertsWithCooldown persists candidates that have no alert with the
// same (device, type, severity) created within cooldown of now, whether or
// not that alert was acknowledged. Per-device advisory locks serialize
// concurrent evaluators; the dedup_bucket unique key backs them up.
func (s *PostgresStore) InsertAlertsWithCooldown(
	ctx context.Context,
	candidates []domain.BatteryAlert,
	now time.Time,
	cooldown time.Duration,
) ([]domain.BatteryAlert, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	devices := make([]string, 0, len(candidates))
	for i := range candidates {
		devices = append(devices, candidates[i].DeviceID)
	}
	slices.Sort(devices)
	devices = slices.Compact(devices)

	var inserted []domain.BatteryAlert
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Sorted order keeps concurrent transactions from deadlocking.
		for _, d := range devices {
			if _, err := tx.Exec(ctx, queryLockDeviceAlerts, "battery_alerts:"+d); err != nil {
				return fmt.Errorf("locking device %s: %w", d, err)
			}
		}

		recent, err := recentAlertKeys(ctx, tx, devices, now.Add(-cooldown))
		if err != nil {
			return err
		}

		kept, _ := domain.SuppressRecent(candidates, recent)
		if len(kept) == 0 {
			return nil
		}

		b := &pgx.Batch{}
		for i := range kept {
			a := &kept[i]
			created := a.CreatedAt
			if created.IsZero() {
				created = now
			}
			b.Queue(queryInsertAlert, pgx.NamedArgs{
				"device_id":       a.DeviceID,
				"alert_type":      a.AlertType,
				"severity":        string(a.Severity),
				"message":         a.Message,
				"reading_value":   a.ReadingValue,
				"threshold_value": a.ThresholdValue,
				"created_at":      created,
				"dedup_bucket":    domain.DedupBucket(created, cooldown),
			})
		}

		br := tx.SendBatch(ctx, b)
		for i := range kept {
			a := kept[i]
			err := br.QueryRow().Scan(&a.ID, &a.CreatedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // lost the bucket to a concurrent writer
			}
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("inserting alert: %w", err)
			}
			inserted = append(inserted, a)
		}
		return br.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("inserting alerts: %w", err)
	}
	return inserted, nil
}

// ListAlerts returns alerts matching the query, newest first.
func (s *PostgresStore) ListAlerts(ctx context.Context, q *AlertQuery) ([]domain.BatteryAlert, error) {
	query, args := q.ToSQL()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.BatteryAlert
	for rows.Next() {
		var a domain.BatteryAlert
		if err := scanAlert(rows, &a); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert marks an alert acknowledged. Alerts that do not exist or
// are outside the caller's scope return domain.ErrNotFound.
func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, ack *Acknowledgement) (*domain.BatteryAlert, error) {
	query, args := acknowledgeSQL(ack)

	var id string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("acknowledging alert: %w", err)
	}

	var a domain.BatteryAlert
	if err := scanAlert(s.pool.QueryRow(ctx, queryGetAlert, id), &a); err != nil {
		return nil, fmt.Errorf("reading acknowledged alert: %w", err)
	}
	return &a, nil
}

// GetAlertConfig returns the stored thresholds, or the defaults when none
// have been saved.
func (s *PostgresStore) GetAlertConfig(ctx context.Context) (domain.AlertConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, queryGetAlertConfig).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultAlertConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying alert config: %w", err)
	}

	var cfg domain.AlertConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding alert config: %w", err)
	}
	return cfg, nil
}

// SetAlertConfig replaces the stored thresholds.
func (s *PostgresStore) SetAlertConfig(ctx context.Context, cfg domain.AlertConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding alert config: %w", err)
	}
	if _, err := s.pool.Exec(ctx, querySetAlertConfig, raw); err != nil {
		return fmt.Errorf("saving alert config: %w", err)
	}
	return nil
}

// InsertJobRun records the start of a scheduled job and returns its UUID.
func (s *PostgresStore) InsertJobRun(ctx context.Context, jobName string) (string, error) {
	var id string
	if err := s.pool.QueryRow(ctx, queryInsertJobRun, jobName).Scan(&id); err != nil {
		return "", fmt.Errorf("inserting job run: %w", err)
	}
	return id, nil
}

// CompleteJobRun marks a job run as finished with the given status and metadata.
func (s *PostgresStore) CompleteJobRun(
	ctx context.Context,
	id string,
	status string,
	errText string,
	rowsAffected int,
) error {
	if _, err := s.pool.Exec(ctx, queryCompleteJobRun, id, status, errText, rowsAffected); err != nil {
		return fmt.Errorf("completing job run: %w", err)
	}
	return nil
}

// ListJobRuns returns the most recent runs for a specific job, newest first.
func (s *PostgresStore) ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	rows, err := s.pool.Query(ctx, queryListJobRuns, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("querying job runs: %w", err)
	}
	defer rows.Close()

	return scanJobRuns(rows)
}

// ListLatestJobRuns returns the single most recent run for each distinct job name.
func (s *PostgresStore) ListLatestJobRuns(ctx context.Context) ([]domain.JobRun, error) {
	rows, err := s.pool.Query(ctx, queryListLatestJobRuns)
	if err != nil {
		return nil, fmt.Errorf("querying latest job runs: %w", err)
	}
	defer rows.Close()

	return scanJobRuns(rows)
}

// RecoverStaleJobRuns marks 'running' rows older than olderThan as 'crashed',
// then prunes rows older than 30 days. Returns the number marked crashed.
func (s *PostgresStore) RecoverStaleJobRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, queryMarkStaleJobRunsCrashed, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("marking stale job runs crashed: %w", err)
	}
	affected := int(tag.RowsAffected())

	if _, err := s.pool.Exec(ctx, queryDeleteOldJobRuns); err != nil {
		return affected, fmt.Errorf("deleting old job runs: %w", err)
	}
	return affected, nil
}

// AcquireSchedulerLock attempts to take the named job lock for holder.
// It returns false without error when another holder owns an unexpired lock.
func (s *PostgresStore) AcquireSchedulerLock(
	ctx context.Context,
	jobName string,
	holder string,
	ttl time.Duration,
) (bool, error) {
	var got string
	err := s.pool.QueryRow(ctx, queryAcquireSchedulerLock, jobName, holder, time.Now().Add(ttl)).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquiring scheduler lock: %w", err)
	}
	return true, nil
}

// ReleaseSchedulerLock deletes the lock row for the given job and holder.
func (s *PostgresStore) ReleaseSchedulerLock(ctx context.Context, jobName string, holder string) error {
	if _, err := s.pool.Exec(ctx, queryReleaseSchedulerLock, jobName, holder); err != nil {
		return fmt.Errorf("releasing scheduler lock: %w", err)
	}
	return nil
}

// execBatch sends b and sums affected rows across its statements.
func (s *PostgresStore) execBatch(ctx context.Context, b *pgx.Batch) (int, error) {
	if b.Len() == 0 {
		return 0, nil
	}

	br := s.pool.SendBatch(ctx, b)
	var n int64
	for range b.Len() {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return int(n), err
		}
		n += tag.RowsAffected()
	}
	return int(n), br.Close()
}

func (s *PostgresStore) queryAggregates(ctx context.Context, query string, args ...any) ([]domain.Aggregate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Aggregate
	for rows.Next() {
		var a domain.Aggregate
		if err := rows.Scan(
			&a.Bucket, &a.DeviceID,
			&a.AvgSOC, &a.MinSOC, &a.MaxSOC,
			&a.AvgSOH, &a.MinSOH, &a.MaxSOH,
			&a.AvgVoltage, &a.MinVoltage, &a.MaxVoltage,
			&a.AvgCurrent, &a.MinCurrent, &a.MaxCurrent,
			&a.AvgTemperature, &a.MinTemperature, &a.MaxTemperature,
			&a.MaxChargeCycle, &a.ReadingCount,
		); err != nil {
			return nil, err
		}
		a.Bucket = a.Bucket.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) querySOCTrend(
	ctx context.Context,
	scope domain.Scope,
	since time.Time,
	materialized bool,
) ([]domain.SOCTrendPoint, error) {
	query, args := socTrendSQL(scope, since, materialized)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SOCTrendPoint
	for rows.Next() {
		var p domain.SOCTrendPoint
		if err := rows.Scan(&p.Day, &p.AvgSOC, &p.DeviceCount); err != nil {
			return nil, err
		}
		p.Day = p.Day.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) querySOHChanges(
	ctx context.Context,
	since time.Time,
	minDrop float64,
	materialized bool,
) ([]SOHChange, error) {
	query, args := sohChangeSQL(since, minDrop, materialized)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SOHChange
	for rows.Next() {
		var c SOHChange
		if err := rows.Scan(&c.DeviceID, &c.StartSOH, &c.EndSOH); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func recentAlertKeys(ctx context.Context, tx pgx.Tx, devices []string, since time.Time) ([]domain.AlertKey, error) {
	rows, err := tx.Query(ctx, queryRecentAlertKeys, devices, since)
	if err != nil {
		return nil, fmt.Errorf("querying recent alerts: %w", err)
	}
	defer rows.Close()

	var keys []domain.AlertKey
	for rows.Next() {
		var k domain.AlertKey
		var sev string
		if err := rows.Scan(&k.DeviceID, &k.AlertType, &sev); err != nil {
			return nil, fmt.Errorf("scanning recent alert: %w", err)
		}
		k.Severity = domain.Severity(sev)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// isMissingAggregate reports whether err means the continuous aggregate or
// the TimescaleDB function behind it is not installed.
func isMissingAggregate(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUndefinedTable || pgErr.Code == pgUndefinedFunction
}

func sourceOrDefault(src string) string {
	if src == "" {
		return "api"
	}
	return src
}

// scannable abstracts pgx.Row and pgx.Rows for reuse.
type scannable interface {
	Scan(dest ...any) error
}

func scanBattery(row scannable, r *domain.BatteryReading) error {
	return row.Scan(
		&r.Time, &r.DeviceID, &r.BatteryID, &r.SOC, &r.SOH, &r.Voltage, &r.Current,
		&r.ChargeCycle, &r.Temperature, &r.PowerWatts, &r.Source,
	)
}

func scanGPS(row scannable, g *domain.GPSReading) error {
	return row.Scan(
		&g.Time, &g.DeviceID, &g.Latitude, &g.Longitude, &g.Altitude, &g.Speed, &g.Heading,
		&g.DeviceBattery, &g.VehicleBattery, &g.IgnitionOn, &g.IsMoving,
	)
}

func scanAlert(row scannable, a *domain.BatteryAlert) error {
	var sev string
	if err := row.Scan(
		&a.ID, &a.DeviceID, &a.AlertType, &sev, &a.Message,
		&a.ReadingValue, &a.ThresholdValue, &a.Acknowledged, &a.AcknowledgedBy,
		&a.ResolvedAt, &a.ResolvedNotes, &a.CreatedAt,
		&a.VehicleNumber, &a.CustomerName,
	); err != nil {
		return err
	}
	a.Severity = domain.Severity(sev)
	return nil
}

// scanJobRuns scans rows from a job_runs query into a slice.
func scanJobRuns(rows pgx.Rows) ([]domain.JobRun, error) {
	var runs []domain.JobRun
	for rows.Next() {
		var r domain.JobRun
		if err := rows.Scan(
			&r.ID, &r.JobName, &r.StartedAt, &r.CompletedAt,
			&r.Status, &r.ErrorText, &r.RowsAffected,
		); err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
