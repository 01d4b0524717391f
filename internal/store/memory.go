package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donaldgifford/fleet-telemetry/pkg/rollup"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

type readingKey struct {
	device string
	at     int64
}

type summaryKey struct {
	device string
	start  int64
}

type schedulerLock struct {
	holder    string
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. It backs local
// development (database.driver: memory) and engine tests, and follows the
// same insert-or-ignore, scope and cooldown rules as PostgresStore.
type MemoryStore struct {
	mu sync.Mutex

	battery  map[readingKey]domain.BatteryReading
	gps      map[readingKey]domain.GPSReading
	rejected []domain.RejectedReading
	trips    map[summaryKey]domain.TripSummary
	energy   map[summaryKey]domain.EnergySummary
	devices  map[string]domain.DeviceBatteryMap
	alerts   []domain.BatteryAlert
	buckets  map[bucketKey]struct{}
	config   domain.AlertConfig
	jobRuns  []domain.JobRun
	locks    map[string]schedulerLock

	now func() time.Time
}

type bucketKey struct {
	key    domain.AlertKey
	bucket int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		battery: make(map[readingKey]domain.BatteryReading),
		gps:     make(map[readingKey]domain.GPSReading),
		trips:   make(map[summaryKey]domain.TripSummary),
		energy:  make(map[summaryKey]domain.EnergySummary),
		devices: make(map[string]domain.DeviceBatteryMap),
		buckets: make(map[bucketKey]struct{}),
		locks:   make(map[string]schedulerLock),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for job runs and scheduler locks.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (*MemoryStore) Ping(context.Context) error { return nil }

// Migrate is a no-op.
func (*MemoryStore) Migrate(context.Context) error { return nil }

// InsertBatteryReadings stores readings not already present by (time, device_id).
func (s *MemoryStore) InsertBatteryReadings(_ context.Context, batch []domain.BatteryReading) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for i := range batch {
		r := batch[i]
		k := readingKey{device: r.DeviceID, at: r.Time.UnixNano()}
		if _, dup := s.battery[k]; dup {
			continue
		}
		r.Source = sourceOrDefault(r.Source)
		r.Raw = nil
		s.battery[k] = r
		n++
	}
	return n, nil
}

// InsertGPSReadings stores positions not already present by (time, device_id).
func (s *MemoryStore) InsertGPSReadings(_ context.Context, batch []domain.GPSReading) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for i := range batch {
		g := batch[i]
		k := readingKey{device: g.DeviceID, at: g.Time.UnixNano()}
		if _, dup := s.gps[k]; dup {
			continue
		}
		g.Raw = nil
		s.gps[k] = g
		n++
	}
	return n, nil
}

// InsertRejectedReadings appends audit rows.
func (s *MemoryStore) InsertRejectedReadings(_ context.Context, batch []domain.RejectedReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, batch...)
	return nil
}

// Rejected returns a copy of the rejection audit trail.
func (s *MemoryStore) Rejected() []domain.RejectedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rejected)
}

// InsertTrips stores trips not already present by (device_id, start_time).
func (s *MemoryStore) InsertTrips(_ context.Context, batch []domain.TripSummary) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, t := range batch {
		k := summaryKey{device: t.DeviceID, start: t.StartTime.UnixNano()}
		if _, dup := s.trips[k]; dup {
			continue
		}
		s.trips[k] = t
		n++
	}
	return n, nil
}

// InsertEnergy stores energy windows not already present by (device_id, start_time).
func (s *MemoryStore) InsertEnergy(_ context.Context, batch []domain.EnergySummary) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, e := range batch {
		k := summaryKey{device: e.DeviceID, start: e.StartTime.UnixNano()}
		if _, dup := s.energy[k]; dup {
			continue
		}
		s.energy[k] = e
		n++
	}
	return n, nil
}

// LatestBattery returns the newest battery reading for a device.
func (s *MemoryStore) LatestBattery(_ context.Context, deviceID string) (*domain.BatteryReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.latestBatteryLocked(deviceID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

// LatestGPS returns the newest GPS reading for a device.
func (s *MemoryStore) LatestGPS(_ context.Context, deviceID string) (*domain.GPSReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		latest domain.GPSReading
		found  bool
	)
	for _, g := range s.gps {
		if g.DeviceID == deviceID && (!found || g.Time.After(latest.Time)) {
			latest, found = g, true
		}
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	return &latest, nil
}

// RangeBattery returns battery readings in [From, To) oldest first.
func (s *MemoryStore) RangeBattery(_ context.Context, q *RangeQuery) ([]domain.BatteryReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.BatteryReading
	for _, r := range s.battery {
		if r.DeviceID == q.DeviceID && inRange(r.Time, q.From, q.To) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.BatteryReading) int { return a.Time.Compare(b.Time) })
	return truncate(out, clamp(q.Limit, defaultRangeLimit, maxRangeLimit)), nil
}

// RangeGPS returns GPS readings in [From, To) oldest first.
func (s *MemoryStore) RangeGPS(_ context.Context, q *RangeQuery) ([]domain.GPSReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.GPSReading
	for _, g := range s.gps {
		if g.DeviceID == q.DeviceID && inRange(g.Time, q.From, q.To) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b domain.GPSReading) int { return a.Time.Compare(b.Time) })
	return truncate(out, clamp(q.Limit, defaultRangeLimit, maxRangeLimit)), nil
}

// ListTrips returns a device's most recent trips.
func (s *MemoryStore) ListTrips(_ context.Context, deviceID string, limit int) ([]domain.TripSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TripSummary
	for _, t := range s.trips {
		if t.DeviceID == deviceID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.TripSummary) int { return b.StartTime.Compare(a.StartTime) })
	return truncate(out, clamp(limit, defaultTripLimit, maxTripLimit)), nil
}

// Aggregates computes rollups from raw readings with rollup.Bucketize.
func (s *MemoryStore) Aggregates(_ context.Context, q *AggregateQuery) ([]domain.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var readings []domain.BatteryReading
	for _, r := range s.battery {
		if r.DeviceID != q.DeviceID {
			continue
		}
		b := rollup.Truncate(r.Time, q.Bucket)
		if inRange(b, q.From, q.To) {
			readings = append(readings, r)
		}
	}
	return rollup.Bucketize(readings, q.Bucket), nil
}

// RefreshAggregates reports that there is nothing to materialize.
func (*MemoryStore) RefreshAggregates(context.Context, time.Time, time.Time) error {
	return ErrAggregatesUnavailable
}

// SOCTrend returns daily fleet-average SOC for days on or after since.
func (s *MemoryStore) SOCTrend(_ context.Context, scope domain.Scope, since time.Time) ([]domain.SOCTrendPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type day struct {
		sum     float64
		devices int
	}
	days := make(map[time.Time]*day)
	for _, a := range s.dailyLocked(since) {
		if a.AvgSOC == nil || !s.visibleLocked(scope, a.DeviceID) {
			continue
		}
		d, ok := days[a.Bucket]
		if !ok {
			d = &day{}
			days[a.Bucket] = d
		}
		d.sum += *a.AvgSOC
		d.devices++
	}

	out := make([]domain.SOCTrendPoint, 0, len(days))
	for t, d := range days {
		out = append(out, domain.SOCTrendPoint{Day: t, AvgSOC: d.sum / float64(d.devices), DeviceCount: d.devices})
	}
	slices.SortFunc(out, func(a, b domain.SOCTrendPoint) int { return a.Day.Compare(b.Day) })
	return out, nil
}

// SOHChanges compares each device's first and last daily average SOH since since.
func (s *MemoryStore) SOHChanges(_ context.Context, since time.Time, minDrop float64) ([]SOHChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDevice := make(map[string]*SOHChange)
	var order []string
	// dailyLocked is ordered by device then bucket.
	for _, a := range s.dailyLocked(since) {
		if a.AvgSOH == nil {
			continue
		}
		c, ok := byDevice[a.DeviceID]
		if !ok {
			c = &SOHChange{DeviceID: a.DeviceID, StartSOH: *a.AvgSOH}
			byDevice[a.DeviceID] = c
			order = append(order, a.DeviceID)
		}
		c.EndSOH = *a.AvgSOH
	}

	var out []SOHChange
	for _, id := range order {
		if c := byDevice[id]; c.Drop() >= minDrop {
			out = append(out, *c)
		}
	}
	return out, nil
}

// UpsertDeviceMappings inserts or replaces mappings.
func (s *MemoryStore) UpsertDeviceMappings(_ context.Context, maps []domain.DeviceBatteryMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range maps {
		if prev, ok := s.devices[m.DeviceID]; ok && m.ActivatedAt == nil {
			m.ActivatedAt = prev.ActivatedAt
		}
		s.devices[m.DeviceID] = m
	}
	return nil
}

// GetDeviceMapping returns the mapping row for a device.
func (s *MemoryStore) GetDeviceMapping(_ context.Context, deviceID string) (*domain.DeviceBatteryMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.devices[deviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

// ListDevices pages through mapped devices visible in the query scope.
func (s *MemoryStore) ListDevices(_ context.Context, q *DeviceQuery) ([]domain.DeviceSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visible []domain.DeviceBatteryMap
	for _, m := range s.devices {
		if q.Scope.Allows(m.DealerID) {
			visible = append(visible, m)
		}
	}
	slices.SortFunc(visible, func(a, b domain.DeviceBatteryMap) int { return cmp.Compare(a.DeviceID, b.DeviceID) })

	total := len(visible)
	offset := min(max(q.Offset, 0), total)
	page := truncate(visible[offset:], clamp(q.Limit, defaultDeviceLimit, maxDeviceLimit))

	out := make([]domain.DeviceSummary, 0, len(page))
	for _, m := range page {
		d := domain.DeviceSummary{DeviceBatteryMap: m}
		if r, ok := s.latestBatteryLocked(m.DeviceID); ok {
			t := r.Time
			d.LastSeen = &t
			d.SOC, d.SOH, d.Voltage, d.Temperature = r.SOC, r.SOH, r.Voltage, r.Temperature
		}
		out = append(out, d)
	}
	return out, total, nil
}

// StaleDevices returns active mapped devices last seen before lastSeenBefore.
func (s *MemoryStore) StaleDevices(_ context.Context, lastSeenBefore time.Time) ([]DeviceLastSeen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DeviceLastSeen
	for id, m := range s.devices {
		if !m.IsActive {
			continue
		}
		if r, ok := s.latestBatteryLocked(id); ok && r.Time.Before(lastSeenBefore) {
			out = append(out, DeviceLastSeen{DeviceID: id, LastSeen: r.Time})
		}
	}
	slices.SortFunc(out, func(a, b DeviceLastSeen) int { return cmp.Compare(a.DeviceID, b.DeviceID) })
	return out, nil
}

// FleetOverview computes dashboard KPIs for the scope.
func (s *MemoryStore) FleetOverview(
	_ context.Context,
	scope domain.Scope,
	chargingSince time.Time,
) (*domain.FleetOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		o      domain.FleetOverview
		sohSum float64
		sohN   int
	)
	for id, m := range s.devices {
		if !scope.Allows(m.DealerID) {
			continue
		}
		if m.IsActive {
			o.ActiveBatteries++
		}
		r, ok := s.latestBatteryLocked(id)
		if !ok {
			continue
		}
		if r.SOH != nil {
			sohSum += *r.SOH
			sohN++
		}
		if r.Current != nil && *r.Current > 0 && !r.Time.Before(chargingSince) {
			o.ChargingNow++
		}
	}
	if sohN > 0 {
		o.AvgSOH = sohSum / float64(sohN)
	}
	for i := range s.alerts {
		if !s.alerts[i].Acknowledged && s.visibleLocked(scope, s.alerts[i].DeviceID) {
			o.ActiveAlerts++
		}
	}
	return &o, nil
}

// InsertAlertsWithCooldown applies the same cooldown and bucket rules as
// PostgresStore under the store mutex.
func (s *MemoryStore) InsertAlertsWithCooldown(
	_ context.Context,
	candidates []domain.BatteryAlert,
	now time.Time,
	cooldown time.Duration,
) ([]domain.BatteryAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := now.Add(-cooldown)
	var recent []domain.AlertKey
	for i := range s.alerts {
		if s.alerts[i].CreatedAt.After(since) {
			recent = append(recent, s.alerts[i].Key())
		}
	}

	kept, _ := domain.SuppressRecent(candidates, recent)

	var inserted []domain.BatteryAlert
	for _, a := range kept {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		bk := bucketKey{key: a.Key(), bucket: domain.DedupBucket(a.CreatedAt, cooldown).UnixNano()}
		if _, taken := s.buckets[bk]; taken {
			continue
		}
		s.buckets[bk] = struct{}{}
		a.ID = uuid.NewString()
		a.Acknowledged = false
		s.alerts = append(s.alerts, a)
		inserted = append(inserted, s.enrichLocked(a))
	}
	return inserted, nil
}

// ListAlerts returns alerts matching the query, newest first.
func (s *MemoryStore) ListAlerts(_ context.Context, q *AlertQuery) ([]domain.BatteryAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.BatteryAlert
	for _, a := range s.alerts {
		if !s.visibleLocked(q.Scope, a.DeviceID) {
			continue
		}
		if q.Acknowledged != nil && a.Acknowledged != *q.Acknowledged {
			continue
		}
		if q.DeviceID != nil && a.DeviceID != *q.DeviceID {
			continue
		}
		out = append(out, s.enrichLocked(a))
	}
	slices.SortStableFunc(out, func(a, b domain.BatteryAlert) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return truncate(out, clamp(q.Limit, defaultAlertLimit, maxAlertLimit)), nil
}

// AcknowledgeAlert marks an alert acknowledged within the caller's scope.
func (s *MemoryStore) AcknowledgeAlert(_ context.Context, ack *Acknowledgement) (*domain.BatteryAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		a := &s.alerts[i]
		if a.ID != ack.AlertID {
			continue
		}
		if !s.visibleLocked(ack.Scope, a.DeviceID) {
			return nil, domain.ErrNotFound
		}
		by, at := ack.By, ack.At
		a.Acknowledged = true
		a.AcknowledgedBy = &by
		a.ResolvedAt = &at
		a.ResolvedNotes = ack.Notes
		out := s.enrichLocked(*a)
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

// GetAlertConfig returns the stored thresholds or the defaults.
func (s *MemoryStore) GetAlertConfig(context.Context) (domain.AlertConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return domain.DefaultAlertConfig(), nil
	}
	out := make(domain.AlertConfig, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out, nil
}

// SetAlertConfig replaces the stored thresholds.
func (s *MemoryStore) SetAlertConfig(_ context.Context, cfg domain.AlertConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = make(domain.AlertConfig, len(cfg))
	for k, v := range cfg {
		s.config[k] = v
	}
	return nil
}

// InsertJobRun records the start of a job.
func (s *MemoryStore) InsertJobRun(_ context.Context, jobName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.jobRuns = append(s.jobRuns, domain.JobRun{
		ID: id, JobName: jobName, StartedAt: s.now(), Status: domain.JobStatusRunning,
	})
	return id, nil
}

// CompleteJobRun finishes a job run.
func (s *MemoryStore) CompleteJobRun(_ context.Context, id, status, errText string, rowsAffected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobRuns {
		if s.jobRuns[i].ID != id {
			continue
		}
		now := s.now()
		n := rowsAffected
		s.jobRuns[i].CompletedAt = &now
		s.jobRuns[i].Status = status
		s.jobRuns[i].ErrorText = errText
		s.jobRuns[i].RowsAffected = &n
		return nil
	}
	return domain.ErrNotFound
}

// ListJobRuns returns recent runs for one job, newest first.
func (s *MemoryStore) ListJobRuns(_ context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.JobRun
	for i := len(s.jobRuns) - 1; i >= 0; i-- {
		if s.jobRuns[i].JobName == jobName {
			out = append(out, s.jobRuns[i])
		}
	}
	if limit > 0 {
		out = truncate(out, limit)
	}
	return out, nil
}

// ListLatestJobRuns returns the newest run of each job, ordered by job name.
func (s *MemoryStore) ListLatestJobRuns(context.Context) ([]domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]domain.JobRun)
	for _, r := range s.jobRuns {
		latest[r.JobName] = r
	}
	out := make([]domain.JobRun, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b domain.JobRun) int { return cmp.Compare(a.JobName, b.JobName) })
	return out, nil
}

// RecoverStaleJobRuns marks long-running rows crashed.
func (s *MemoryStore) RecoverStaleJobRuns(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-olderThan)
	var n int
	for i := range s.jobRuns {
		r := &s.jobRuns[i]
		if r.Status == domain.JobStatusRunning && r.StartedAt.Before(cutoff) {
			r.Status = domain.JobStatusCrashed
			r.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

// AcquireSchedulerLock takes the named lock unless an unexpired one exists.
func (s *MemoryStore) AcquireSchedulerLock(_ context.Context, jobName, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if l, ok := s.locks[jobName]; ok && l.expiresAt.After(now) {
		return false, nil
	}
	s.locks[jobName] = schedulerLock{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseSchedulerLock drops the lock if holder owns it.
func (s *MemoryStore) ReleaseSchedulerLock(_ context.Context, jobName, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.locks[jobName]; ok && l.holder == holder {
		delete(s.locks, jobName)
	}
	return nil
}

func (s *MemoryStore) latestBatteryLocked(deviceID string) (domain.BatteryReading, bool) {
	var (
		latest domain.BatteryReading
		found  bool
	)
	for _, r := range s.battery {
		if r.DeviceID == deviceID && (!found || r.Time.After(latest.Time)) {
			latest, found = r, true
		}
	}
	return latest, found
}

// dailyLocked returns daily rollups for buckets on or after since.
func (s *MemoryStore) dailyLocked(since time.Time) []domain.Aggregate {
	var readings []domain.BatteryReading
	for _, r := range s.battery {
		if !r.Time.Before(since) {
			readings = append(readings, r)
		}
	}
	return rollup.Bucketize(readings, domain.BucketDay)
}

// visibleLocked applies scope to a device through its mapping. Unmapped
// devices are visible to owners only.
func (s *MemoryStore) visibleLocked(scope domain.Scope, deviceID string) bool {
	if scope.IsOwner() {
		return true
	}
	m, ok := s.devices[deviceID]
	return ok && scope.Allows(m.DealerID)
}

func (s *MemoryStore) enrichLocked(a domain.BatteryAlert) domain.BatteryAlert {
	if m, ok := s.devices[a.DeviceID]; ok {
		a.VehicleNumber = m.VehicleNumber
		a.CustomerName = m.CustomerName
	}
	return a
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
