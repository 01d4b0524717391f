package store

// SQL query constants organized by entity.
// Static SQL lives here; scope-dependent statements are built in query.go.

// Reading queries.
const (
	queryInsertBatteryReading = `
		INSERT INTO telemetry.battery_readings (
			time, device_id, battery_id, soc, soh, voltage, current,
			charge_cycle, temperature, power_watts, source
		) VALUES (
			@time, @device_id, @battery_id, @soc, @soh, @voltage, @current,
			@charge_cycle, @temperature, @power_watts, @source
		)
		ON CONFLICT (time, device_id) DO NOTHING`

	queryInsertGPSReading = `
		INSERT INTO telemetry.gps_readings (
			time, device_id, latitude, longitude, altitude, speed, heading,
			device_battery, vehicle_battery, ignition_on, is_moving
		) VALUES (
			@time, @device_id, @latitude, @longitude, @altitude, @speed, @heading,
			@device_battery, @vehicle_battery, @ignition_on, @is_moving
		)
		ON CONFLICT (time, device_id) DO NOTHING`

	queryInsertRejectedReading = `
		INSERT INTO telemetry.rejected_readings (time, device_id, reading_type, payload, error_reason)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)`

	queryInsertTrip = `
		INSERT INTO telemetry.trips (
			device_id, start_time, end_time, distance_km, duration_minutes,
			start_soc, end_soc, energy_consumed_wh, avg_speed, max_speed,
			start_lat, start_lng, end_lat, end_lng
		) VALUES (
			@device_id, @start_time, @end_time, @distance_km, @duration_minutes,
			@start_soc, @end_soc, @energy_consumed_wh, @avg_speed, @max_speed,
			@start_lat, @start_lng, @end_lat, @end_lng
		)
		ON CONFLICT (device_id, start_time) DO NOTHING`

	queryInsertEnergy = `
		INSERT INTO telemetry.energy_consumption (
			device_id, start_time, end_time, energy_wh, distance_km,
			efficiency_wh_per_km, charge_energy_wh, discharge_energy_wh
		) VALUES (
			@device_id, @start_time, @end_time, @energy_wh, @distance_km,
			@efficiency_wh_per_km, @charge_energy_wh, @discharge_energy_wh
		)
		ON CONFLICT (device_id, start_time) DO NOTHING`

	batteryColumns = `time, device_id, battery_id, soc, soh, voltage, current,
		charge_cycle, temperature, power_watts, source`

	gpsColumns = `time, device_id, latitude, longitude, altitude, speed, heading,
		device_battery, vehicle_battery, ignition_on, is_moving`

	queryLatestBattery = `
		SELECT ` + batteryColumns + `
		FROM telemetry.battery_readings
		WHERE device_id = $1
		ORDER BY time DESC
		LIMIT 1`

	queryLatestGPS = `
		SELECT ` + gpsColumns + `
		FROM telemetry.gps_readings
		WHERE device_id = $1
		ORDER BY time DESC
		LIMIT 1`

	queryRangeBattery = `
		SELECT ` + batteryColumns + `
		FROM telemetry.battery_readings
		WHERE device_id = $1 AND time >= $2 AND time < $3
		ORDER BY time ASC
		LIMIT $4`

	queryRangeGPS = `
		SELECT ` + gpsColumns + `
		FROM telemetry.gps_readings
		WHERE device_id = $1 AND time >= $2 AND time < $3
		ORDER BY time ASC
		LIMIT $4`

	queryListTrips = `
		SELECT device_id, start_time, end_time, distance_km, duration_minutes,
			start_soc, end_soc, energy_consumed_wh, avg_speed, max_speed,
			start_lat, start_lng, end_lat, end_lng
		FROM telemetry.trips
		WHERE device_id = $1
		ORDER BY start_time DESC
		LIMIT $2`
)

// Aggregate queries.
const (
	viewHourly = "telemetry.battery_hourly"
	viewDaily  = "telemetry.battery_daily"

	aggregateColumns = `avg_soc, min_soc, max_soc,
		avg_soh, min_soh, max_soh,
		avg_voltage, min_voltage, max_voltage,
		avg_current, min_current, max_current,
		avg_temperature, min_temperature, max_temperature,
		max_charge_cycle, reading_count`

	// queryAggregatesView is formatted with a view name from aggregateViews.
	queryAggregatesView = `
		SELECT bucket, device_id, ` + aggregateColumns + `
		FROM %s
		WHERE device_id = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket`

	queryAggregatesRaw = `
		SELECT date_bin(make_interval(secs => $4), time, TIMESTAMPTZ 'epoch') AS bucket,
			device_id,
			AVG(soc), MIN(soc), MAX(soc),
			AVG(soh), MIN(soh), MAX(soh),
			AVG(voltage), MIN(voltage), MAX(voltage),
			AVG(current), MIN(current), MAX(current),
			AVG(temperature), MIN(temperature), MAX(temperature),
			MAX(charge_cycle), COUNT(*)
		FROM telemetry.battery_readings
		WHERE device_id = $1 AND time >= $2 AND time < $3
		GROUP BY 1, 2
		ORDER BY 1`

	// rawDailySource is formatted with the placeholder bounding time below.
	rawDailySource = `(
			SELECT date_bin(INTERVAL '1 day', time, TIMESTAMPTZ 'epoch') AS bucket,
				device_id, AVG(soc) AS avg_soc, AVG(soh) AS avg_soh
			FROM telemetry.battery_readings
			WHERE time >= %s
			GROUP BY 1, 2
		)`

	queryRefreshAggregate = `CALL refresh_continuous_aggregate($1::regclass, $2::timestamptz, $3::timestamptz)`
)

// Device queries.
const (
	queryUpsertDeviceMapping = `
		INSERT INTO device_battery_map (
			device_id, battery_serial, vehicle_number, dealer_id,
			customer_name, customer_phone, is_active, activated_at
		) VALUES (
			@device_id, @battery_serial, @vehicle_number, @dealer_id,
			@customer_name, @customer_phone, @is_active, @activated_at
		)
		ON CONFLICT (device_id) DO UPDATE SET
			battery_serial = EXCLUDED.battery_serial,
			vehicle_number = EXCLUDED.vehicle_number,
			dealer_id      = EXCLUDED.dealer_id,
			customer_name  = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			is_active      = EXCLUDED.is_active,
			activated_at   = COALESCE(EXCLUDED.activated_at, device_battery_map.activated_at)`

	queryGetDeviceMapping = `
		SELECT device_id, battery_serial, vehicle_number, dealer_id,
			customer_name, customer_phone, is_active, activated_at
		FROM device_battery_map
		WHERE device_id = $1`

	queryStaleDevices = `
		WITH latest AS (
			SELECT DISTINCT ON (r.device_id) r.device_id, r.time
			FROM telemetry.battery_readings r
			WHERE r.device_id IN (SELECT device_id FROM device_battery_map WHERE is_active)
			ORDER BY r.device_id, r.time DESC
		)
		SELECT device_id, time FROM latest
		WHERE time < $1
		ORDER BY device_id`
)

// Alert queries.
const (
	queryLockDeviceAlerts = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	queryRecentAlertKeys = `
		SELECT DISTINCT device_id, alert_type, severity
		FROM battery_alerts
		WHERE device_id = ANY($1) AND created_at > $2`

	queryInsertAlert = `
		INSERT INTO battery_alerts (
			device_id, alert_type, severity, message,
			reading_value, threshold_value, created_at, dedup_bucket
		) VALUES (
			@device_id, @alert_type, @severity, @message,
			@reading_value, @threshold_value, @created_at, @dedup_bucket
		)
		ON CONFLICT (device_id, alert_type, severity, dedup_bucket) DO NOTHING
		RETURNING id, created_at`

	queryGetAlert = baseAlertsSelect + `
		WHERE a.id = $1`

	queryGetAlertConfig = `SELECT config FROM alert_config WHERE id = 1`

	querySetAlertConfig = `
		INSERT INTO alert_config (id, config, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			config     = EXCLUDED.config,
			updated_at = now()`
)

// Scheduler queries.
const (
	queryInsertJobRun = `
		INSERT INTO job_runs (job_name)
		VALUES ($1)
		RETURNING id`

	queryCompleteJobRun = `
		UPDATE job_runs SET
			completed_at  = now(),
			status        = $2,
			error_text    = NULLIF($3, ''),
			rows_affected = $4
		WHERE id = $1`

	queryListJobRuns = `
		SELECT id, job_name, started_at, completed_at, status,
			COALESCE(error_text, ''), rows_affected
		FROM job_runs
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT $2`

	queryListLatestJobRuns = `
		SELECT DISTINCT ON (job_name)
			id, job_name, started_at, completed_at, status,
			COALESCE(error_text, ''), rows_affected
		FROM job_runs
		ORDER BY job_name, started_at DESC`

	queryMarkStaleJobRunsCrashed = `
		UPDATE job_runs SET
			status       = 'crashed',
			completed_at = now()
		WHERE status = 'running' AND started_at < $1`

	queryDeleteOldJobRuns = `
		DELETE FROM job_runs WHERE started_at < now() - interval '30 days'`

	queryAcquireSchedulerLock = `
		INSERT INTO scheduler_locks (job_name, lock_holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_name) DO UPDATE
			SET locked_at   = now(),
				lock_holder = EXCLUDED.lock_holder,
				expires_at  = EXCLUDED.expires_at
			WHERE scheduler_locks.expires_at < now()
		RETURNING job_name`

	queryReleaseSchedulerLock = `
		DELETE FROM scheduler_locks WHERE job_name = $1 AND lock_holder = $2`
)
