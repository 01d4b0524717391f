package store

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const (
	defaultAlertLimit = 20
	maxAlertLimit     = 500

	defaultDeviceLimit = 50
	maxDeviceLimit     = 200

	defaultRangeLimit = 1000
	maxRangeLimit     = 5000

	defaultTripLimit = 50
	maxTripLimit     = 500
)

// clamp applies a default to non-positive limits and caps the rest.
func clamp(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// params accumulates positional arguments.
type params struct {
	args []any
}

// add appends v and returns its placeholder.
func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

// scopePredicate restricts device_battery_map (aliased m) to the scope.
// The dealer id is always bound as a parameter.
func scopePredicate(s domain.Scope, p *params) string {
	if s.IsOwner() {
		return "TRUE"
	}
	return "m.dealer_id = " + p.add(s.DealerID)
}

const baseAlertsSelect = `SELECT a.id, a.device_id, a.alert_type, a.severity, a.message,
	a.reading_value, a.threshold_value, a.acknowledged, a.acknowledged_by,
	a.resolved_at, a.resolved_notes, a.created_at,
	m.vehicle_number, m.customer_name
FROM battery_alerts a
LEFT JOIN device_battery_map m ON m.device_id = a.device_id`

// ToSQL builds the alert list query, newest first.
func (q *AlertQuery) ToSQL() (string, []any) {
	var p params
	var conditions []string

	if !q.Scope.IsOwner() {
		conditions = append(conditions, scopePredicate(q.Scope, &p))
	}
	if q.Acknowledged != nil {
		conditions = append(conditions, "a.acknowledged = "+p.add(*q.Acknowledged))
	}
	if q.DeviceID != nil {
		conditions = append(conditions, "a.device_id = "+p.add(*q.DeviceID))
	}

	var where string
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := clamp(q.Limit, defaultAlertLimit, maxAlertLimit)
	return fmt.Sprintf("%s%s ORDER BY a.created_at DESC LIMIT %d", baseAlertsSelect, where, limit), p.args
}

// ToSQL builds the device page query and its matching count query. The
// latest reading is resolved once per page with DISTINCT ON rather than
// per device.
func (q *DeviceQuery) ToSQL() (dataSQL, countSQL string, args []any) {
	var p params
	where := scopePredicate(q.Scope, &p)

	limit := clamp(q.Limit, defaultDeviceLimit, maxDeviceLimit)
	offset := max(q.Offset, 0)

	dataSQL = fmt.Sprintf(`
		WITH page AS (
			SELECT m.device_id, m.battery_serial, m.vehicle_number, m.dealer_id,
				m.customer_name, m.customer_phone, m.is_active, m.activated_at
			FROM device_battery_map m
			WHERE %s
			ORDER BY m.device_id
			LIMIT %d OFFSET %d
		), latest AS (
			SELECT DISTINCT ON (r.device_id)
				r.device_id, r.time, r.soc, r.soh, r.voltage, r.temperature
			FROM telemetry.battery_readings r
			WHERE r.device_id IN (SELECT device_id FROM page)
			ORDER BY r.device_id, r.time DESC
		)
		SELECT p.device_id, p.battery_serial, p.vehicle_number, p.dealer_id,
			p.customer_name, p.customer_phone, p.is_active, p.activated_at,
			l.time, l.soc, l.soh, l.voltage, l.temperature
		FROM page p
		LEFT JOIN latest l ON l.device_id = p.device_id
		ORDER BY p.device_id`, where, limit, offset)

	countSQL = "SELECT COUNT(*) FROM device_battery_map m WHERE " + where

	return dataSQL, countSQL, p.args
}

// overviewSQL builds the fleet KPI query. chargingSince bounds how fresh a
// positive-current reading must be to count as charging now.
func overviewSQL(s domain.Scope, chargingSince time.Time) (string, []any) {
	var p params
	where := scopePredicate(s, &p)
	since := p.add(chargingSince)

	alertFilter := ""
	if !s.IsOwner() {
		alertFilter = " AND a.device_id IN (SELECT device_id FROM scoped)"
	}

	return fmt.Sprintf(`
		WITH scoped AS (
			SELECT m.device_id, m.is_active FROM device_battery_map m WHERE %s
		), latest AS (
			SELECT DISTINCT ON (r.device_id) r.device_id, r.time, r.soh, r.current
			FROM telemetry.battery_readings r
			WHERE r.device_id IN (SELECT device_id FROM scoped)
			ORDER BY r.device_id, r.time DESC
		)
		SELECT
			(SELECT COUNT(*) FROM scoped WHERE is_active),
			COALESCE((SELECT AVG(soh) FROM latest WHERE soh IS NOT NULL), 0),
			(SELECT COUNT(*) FROM latest WHERE current > 0 AND time >= %s),
			(SELECT COUNT(*) FROM battery_alerts a WHERE NOT a.acknowledged%s)`,
		where, since, alertFilter), p.args
}

// dailySource returns the relation daily queries read from: the continuous
// aggregate, or an inline raw rollup bounded below by sincePlaceholder.
func dailySource(materialized bool, sincePlaceholder string) string {
	if materialized {
		return viewDaily
	}
	return fmt.Sprintf(rawDailySource, sincePlaceholder)
}

// socTrendSQL builds the daily fleet SOC query.
func socTrendSQL(s domain.Scope, since time.Time, materialized bool) (string, []any) {
	var p params
	from := p.add(since)

	join := ""
	if !s.IsOwner() {
		join = " JOIN device_battery_map m ON m.device_id = d.device_id AND " + scopePredicate(s, &p)
	}

	return fmt.Sprintf(`
		SELECT d.bucket AS day, AVG(d.avg_soc) AS avg_soc, COUNT(DISTINCT d.device_id) AS device_count
		FROM %s d%s
		WHERE d.bucket >= %s AND d.avg_soc IS NOT NULL
		GROUP BY d.bucket
		ORDER BY d.bucket`, dailySource(materialized, from), join, from), p.args
}

// sohChangeSQL builds the per-device SOH change query over daily averages.
func sohChangeSQL(since time.Time, minDrop float64, materialized bool) (string, []any) {
	var p params
	from := p.add(since)
	drop := p.add(minDrop)

	return fmt.Sprintf(`
		WITH w AS (
			SELECT d.device_id, d.bucket, d.avg_soh
			FROM %s d
			WHERE d.bucket >= %s AND d.avg_soh IS NOT NULL
		), ends AS (
			SELECT device_id,
				(array_agg(avg_soh ORDER BY bucket ASC))[1]  AS start_soh,
				(array_agg(avg_soh ORDER BY bucket DESC))[1] AS end_soh
			FROM w
			GROUP BY device_id
		)
		SELECT device_id, start_soh, end_soh
		FROM ends
		WHERE start_soh - end_soh >= %s
		ORDER BY device_id`, dailySource(materialized, from), from, drop), p.args
}

// acknowledgeSQL builds the scoped acknowledge update. Alerts on devices
// outside the scope match no row.
func acknowledgeSQL(ack *Acknowledgement) (string, []any) {
	var p params
	id := p.add(ack.AlertID)
	by := p.add(ack.By)
	at := p.add(ack.At)
	notes := p.add(ack.Notes)

	visible := ""
	if !ack.Scope.IsOwner() {
		visible = fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM device_battery_map m
			WHERE m.device_id = battery_alerts.device_id AND %s)`, scopePredicate(ack.Scope, &p))
	}

	return fmt.Sprintf(`
		UPDATE battery_alerts SET
			acknowledged    = true,
			acknowledged_by = %s,
			resolved_at     = %s,
			resolved_notes  = %s
		WHERE id = %s%s
		RETURNING id`, by, at, notes, id, visible), p.args
}
