package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	"github.com/donaldgifford/fleet-telemetry/pkg/quality"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// Ingest kinds, used as the metrics label and in log lines.
const (
	KindCAN    = "can"
	KindGPS    = "gps"
	KindTrip   = "trip"
	KindEnergy = "energy"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryInterval   = 200 * time.Millisecond
	defaultRejectSampleMax = 5

	reasonMissingDevice = "missing device_id"
	reasonMissingTime   = "missing time"
)

// LatestCache receives the newest readings after a successful insert.
type LatestCache interface {
	PutBattery(ctx context.Context, readings []domain.BatteryReading) error
	PutGPS(ctx context.Context, readings []domain.GPSReading) error
}

// RejectedSample is one rejected item echoed back to the caller.
type RejectedSample struct {
	Payload json.RawMessage `json:"payload" doc:"Item as received"`
	Reason  string          `json:"reason"  doc:"Why the item was rejected"`
}

// IngestResult summarizes one ingested batch.
type IngestResult struct {
	Message         string           `json:"message"          example:"Batch processing complete"`
	TotalReceived   int              `json:"total_received"   doc:"Items in the request"`
	Inserted        int              `json:"inserted"         doc:"Items newly stored"`
	Duplicates      int              `json:"duplicates"       doc:"Valid items already stored"`
	Rejected        int              `json:"rejected"         doc:"Items that failed validation"`
	RejectedSamples []RejectedSample `json:"rejected_samples" doc:"Up to five rejected items with reasons"`
}

// Ingester validates, stores and alerts on telemetry batches. Insert
// failures are retried with exponential backoff; audit, cache and alert
// failures are logged and never fail the batch.
type Ingester struct {
	store     store.Store
	validator *quality.Validator
	alerts    *AlertEngine
	cache     LatestCache
	log       *slog.Logger

	retryAttempts int
	retryInterval time.Duration
	auditGPS      bool
	sampleMax     int
}

// IngesterOption configures the Ingester.
type IngesterOption func(*Ingester)

// WithIngestLogger sets a custom logger.
func WithIngestLogger(l *slog.Logger) IngesterOption {
	return func(in *Ingester) {
		in.log = l
	}
}

// WithValidator replaces the default-bounds validator.
func WithValidator(v *quality.Validator) IngesterOption {
	return func(in *Ingester) {
		in.validator = v
	}
}

// WithAlertEngine enables alert evaluation on stored CAN readings.
func WithAlertEngine(a *AlertEngine) IngesterOption {
	return func(in *Ingester) {
		in.alerts = a
	}
}

// WithLatestCache enables the latest-reading cache.
func WithLatestCache(c LatestCache) IngesterOption {
	return func(in *Ingester) {
		in.cache = c
	}
}

// WithRetry sets how many times a failed insert is retried and the initial
// backoff interval.
func WithRetry(attempts int, initial time.Duration) IngesterOption {
	return func(in *Ingester) {
		in.retryAttempts = max(attempts, 0)
		if initial > 0 {
			in.retryInterval = initial
		}
	}
}

// WithGPSAudit stores rejected GPS readings in the audit trail.
func WithGPSAudit(enabled bool) IngesterOption {
	return func(in *Ingester) {
		in.auditGPS = enabled
	}
}

// WithRejectSampleLimit caps how many rejected items a result echoes.
func WithRejectSampleLimit(n int) IngesterOption {
	return func(in *Ingester) {
		if n >= 0 {
			in.sampleMax = n
		}
	}
}

// NewIngester creates an Ingester over s.
func NewIngester(s store.Store, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		store:         s,
		validator:     quality.NewValidator(),
		log:           slog.Default(),
		retryAttempts: defaultRetryAttempts,
		retryInterval: defaultRetryInterval,
		sampleMax:     defaultRejectSampleMax,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// rejection is a per-item failure, positioned by input index.
type rejection struct {
	index    int
	deviceID string
	at       time.Time
	payload  json.RawMessage
	reason   string
}

// IngestCAN decodes a JSON array of CAN readings and ingests it. A body that
// is not an array fails with domain.ErrNotArray before anything is stored.
func (in *Ingester) IngestCAN(ctx context.Context, body []byte) (*IngestResult, error) {
	items, err := domain.DecodeArray(body)
	if err != nil {
		return nil, err
	}

	var (
		readings []domain.BatteryReading
		indexes  []int
		rejected []rejection
	)
	for i, raw := range items {
		var r domain.BatteryReading
		if err := json.Unmarshal(raw, &r); err != nil {
			rejected = append(rejected, rejection{index: i, payload: raw, reason: "malformed reading: " + err.Error()})
			continue
		}
		readings = append(readings, r)
		indexes = append(indexes, i)
	}

	return in.ingestBattery(ctx, len(items), readings, indexes, rejected)
}

// IngestBatteryReadings ingests already-decoded readings, e.g. from the poller.
func (in *Ingester) IngestBatteryReadings(ctx context.Context, readings []domain.BatteryReading) (*IngestResult, error) {
	indexes := make([]int, len(readings))
	for i := range indexes {
		indexes[i] = i
	}
	return in.ingestBattery(ctx, len(readings), readings, indexes, nil)
}

func (in *Ingester) ingestBattery(
	ctx context.Context,
	total int,
	readings []domain.BatteryReading,
	indexes []int,
	rejected []rejection,
) (res *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.IngestBattery")
	span.SetAttributes(kindAttr(KindCAN), attribute.Int("fleet.batch_size", total))
	defer func() { endSpan(span, err) }()

	metrics.IngestReceivedTotal.WithLabelValues(KindCAN).Add(float64(total))

	// Sensor bounds are checked first so an out-of-range row reports that
	// reason even when it also lacks its key.
	classified := in.validator.ClassifyBatch(readings)
	for _, rj := range classified.Rejected {
		rejected = append(rejected, rejection{
			index:    indexes[rj.Index],
			deviceID: rj.Reading.DeviceID,
			at:       rj.Reading.Time,
			payload:  rj.Reading.Payload(),
			reason:   rj.Reason,
		})
	}

	valid := make([]domain.BatteryReading, 0, len(classified.Valid))
	for j, i := range survivors(len(readings), classified.Rejected) {
		r := &classified.Valid[j]
		if reason := missingKey(r.DeviceID, r.Time); reason != "" {
			rejected = append(rejected, rejection{
				index: indexes[i], deviceID: r.DeviceID, at: r.Time, payload: r.Payload(), reason: reason,
			})
			continue
		}
		valid = append(valid, *r)
	}

	res = in.newResult(total, rejected)
	in.audit(ctx, domain.ReadingCAN, rejected)

	inserted, err := in.insertWithRetry(ctx, KindCAN, func(ctx context.Context) (int, error) {
		return in.store.InsertBatteryReadings(ctx, valid)
	})
	if err != nil {
		return res, err
	}
	in.finish(res, KindCAN, len(valid), inserted)

	if in.cache != nil && len(valid) > 0 {
		if err := in.cache.PutBattery(ctx, valid); err != nil {
			in.log.Warn("caching latest battery readings failed", "error", err)
		}
	}

	if in.alerts != nil && len(valid) > 0 {
		if _, err := in.alerts.Process(ctx, valid); err != nil {
			in.log.Warn("alert processing failed", "error", err)
			metrics.AlertErrorsTotal.Inc()
		}
	}

	return res, nil
}

// IngestGPS decodes a JSON array of GPS readings and ingests it.
func (in *Ingester) IngestGPS(ctx context.Context, body []byte) (*IngestResult, error) {
	items, err := domain.DecodeArray(body)
	if err != nil {
		return nil, err
	}

	var (
		readings []domain.GPSReading
		indexes  []int
		rejected []rejection
	)
	for i, raw := range items {
		var g domain.GPSReading
		if err := json.Unmarshal(raw, &g); err != nil {
			rejected = append(rejected, rejection{index: i, payload: raw, reason: "malformed reading: " + err.Error()})
			continue
		}
		readings = append(readings, g)
		indexes = append(indexes, i)
	}

	return in.ingestGPS(ctx, len(items), readings, indexes, rejected)
}

// IngestGPSReadings ingests already-decoded positions.
func (in *Ingester) IngestGPSReadings(ctx context.Context, readings []domain.GPSReading) (*IngestResult, error) {
	indexes := make([]int, len(readings))
	for i := range indexes {
		indexes[i] = i
	}
	return in.ingestGPS(ctx, len(readings), readings, indexes, nil)
}

func (in *Ingester) ingestGPS(
	ctx context.Context,
	total int,
	readings []domain.GPSReading,
	indexes []int,
	rejected []rejection,
) (res *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.IngestGPS")
	span.SetAttributes(kindAttr(KindGPS), attribute.Int("fleet.batch_size", total))
	defer func() { endSpan(span, err) }()

	metrics.IngestReceivedTotal.WithLabelValues(KindGPS).Add(float64(total))

	classified := quality.ClassifyGPSBatch(readings)
	for _, rj := range classified.Rejected {
		rejected = append(rejected, rejection{
			index:    indexes[rj.Index],
			deviceID: rj.Reading.DeviceID,
			at:       rj.Reading.Time,
			payload:  rj.Reading.Payload(),
			reason:   rj.Reason,
		})
	}

	valid := make([]domain.GPSReading, 0, len(classified.Valid))
	for j, i := range survivors(len(readings), classified.Rejected) {
		g := &classified.Valid[j]
		if reason := missingKey(g.DeviceID, g.Time); reason != "" {
			rejected = append(rejected, rejection{
				index: indexes[i], deviceID: g.DeviceID, at: g.Time, payload: g.Payload(), reason: reason,
			})
			continue
		}
		valid = append(valid, *g)
	}

	res = in.newResult(total, rejected)
	if in.auditGPS {
		in.audit(ctx, domain.ReadingGPS, rejected)
	}

	inserted, err := in.insertWithRetry(ctx, KindGPS, func(ctx context.Context) (int, error) {
		return in.store.InsertGPSReadings(ctx, valid)
	})
	if err != nil {
		return res, err
	}
	in.finish(res, KindGPS, len(valid), inserted)

	if in.cache != nil && len(valid) > 0 {
		if err := in.cache.PutGPS(ctx, valid); err != nil {
			in.log.Warn("caching latest gps readings failed", "error", err)
		}
	}

	return res, nil
}

// IngestTrips decodes and stores trip summaries. Items without device_id,
// start_time or end_time are rejected.
func (in *Ingester) IngestTrips(ctx context.Context, body []byte) (*IngestResult, error) {
	items, err := domain.DecodeArray(body)
	if err != nil {
		return nil, err
	}

	var (
		valid    []domain.TripSummary
		rejected []rejection
	)
	for i, raw := range items {
		var t domain.TripSummary
		if err := json.Unmarshal(raw, &t); err != nil {
			rejected = append(rejected, rejection{index: i, payload: raw, reason: "malformed trip: " + err.Error()})
			continue
		}
		if reason := domain.MissingSummaryFields(t.DeviceID, t.StartTime, t.EndTime); reason != "" {
			rejected = append(rejected, rejection{index: i, payload: raw, reason: reason})
			continue
		}
		valid = append(valid, t)
	}

	return in.ingestSummaries(ctx, KindTrip, len(items), len(valid), rejected, func(ctx context.Context) (int, error) {
		return in.store.InsertTrips(ctx, valid)
	})
}

// IngestEnergy decodes and stores energy summaries.
func (in *Ingester) IngestEnergy(ctx context.Context, body []byte) (*IngestResult, error) {
	items, err := domain.DecodeArray(body)
	if err != nil {
		return nil, err
	}

	var (
		valid    []domain.EnergySummary
		rejected []rejection
	)
	for i, raw := range items {
		var e domain.EnergySummary
		if err := json.Unmarshal(raw, &e); err != nil {
			rejected = append(rejected, rejection{index: i, payload: raw, reason: "malformed energy record: " + err.Error()})
			continue
		}
		if reason := domain.MissingSummaryFields(e.DeviceID, e.StartTime, e.EndTime); reason != "" {
			rejected = append(rejected, rejection{index: i, payload: raw, reason: reason})
			continue
		}
		valid = append(valid, e)
	}

	return in.ingestSummaries(ctx, KindEnergy, len(items), len(valid), rejected, func(ctx context.Context) (int, error) {
		return in.store.InsertEnergy(ctx, valid)
	})
}

func (in *Ingester) ingestSummaries(
	ctx context.Context,
	kind string,
	total, valid int,
	rejected []rejection,
	insert func(context.Context) (int, error),
) (res *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.IngestSummaries")
	span.SetAttributes(kindAttr(kind), attribute.Int("fleet.batch_size", total))
	defer func() { endSpan(span, err) }()

	metrics.IngestReceivedTotal.WithLabelValues(kind).Add(float64(total))

	res = in.newResult(total, rejected)
	inserted, err := in.insertWithRetry(ctx, kind, insert)
	if err != nil {
		return res, err
	}
	in.finish(res, kind, valid, inserted)
	return res, nil
}

// survivors returns the input positions of the readings a batch
// classification kept, in the same order as its Valid list.
func survivors[T any](n int, rejected []quality.Rejection[T]) []int {
	out := make([]int, 0, n-len(rejected))
	next := 0
	for i := range n {
		if next < len(rejected) && rejected[next].Index == i {
			next++
			continue
		}
		out = append(out, i)
	}
	return out
}

func missingKey(deviceID string, at time.Time) string {
	switch {
	case deviceID == "":
		return reasonMissingDevice
	case at.IsZero():
		return reasonMissingTime
	default:
		return ""
	}
}

func (in *Ingester) newResult(total int, rejected []rejection) *IngestResult {
	sort.SliceStable(rejected, func(i, j int) bool { return rejected[i].index < rejected[j].index })

	res := &IngestResult{
		Message:         "Batch processing complete",
		TotalReceived:   total,
		Rejected:        len(rejected),
		RejectedSamples: make([]RejectedSample, 0, min(len(rejected), in.sampleMax)),
	}
	for i := 0; i < len(rejected) && i < in.sampleMax; i++ {
		res.RejectedSamples = append(res.RejectedSamples, RejectedSample{
			Payload: rejected[i].payload,
			Reason:  rejected[i].reason,
		})
	}
	return res
}

func (in *Ingester) finish(res *IngestResult, kind string, valid, inserted int) {
	res.Inserted = inserted
	res.Duplicates = max(valid-inserted, 0)

	metrics.IngestInsertedTotal.WithLabelValues(kind).Add(float64(res.Inserted))
	metrics.IngestDuplicatesTotal.WithLabelValues(kind).Add(float64(res.Duplicates))
	metrics.IngestRejectedTotal.WithLabelValues(kind).Add(float64(res.Rejected))
}

// audit writes rejected items to the audit trail. Items without a device
// id or time cannot be keyed and are only logged.
func (in *Ingester) audit(ctx context.Context, kind domain.ReadingType, rejected []rejection) {
	if len(rejected) == 0 {
		return
	}

	rows := make([]domain.RejectedReading, 0, len(rejected))
	for _, rj := range rejected {
		if rj.deviceID == "" || rj.at.IsZero() {
			in.log.Warn("rejected reading without key", "reason", rj.reason)
			continue
		}
		rows = append(rows, domain.RejectedReading{
			Time:        rj.at,
			DeviceID:    rj.deviceID,
			ReadingType: kind,
			Payload:     rj.payload,
			Reason:      rj.reason,
		})
	}
	if len(rows) == 0 {
		return
	}

	if err := in.store.InsertRejectedReadings(ctx, rows); err != nil {
		metrics.AuditFailuresTotal.Inc()
		in.log.Warn("storing rejected readings failed", "kind", kind, "count", len(rows), "error", err)
	}
}

// insertWithRetry runs insert with exponential backoff. Inserts are
// idempotent, so a retry after a partially applied attempt is safe.
func (in *Ingester) insertWithRetry(
	ctx context.Context,
	kind string,
	insert func(context.Context) (int, error),
) (int, error) {
	var inserted int
	op := func() error {
		n, err := insert(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		inserted = n
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = in.retryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(in.retryAttempts)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		metrics.IngestInsertRetriesTotal.WithLabelValues(kind).Inc()
		in.log.Warn("insert failed, retrying", "kind", kind, "wait", wait, "error", err)
	})
	if err != nil {
		metrics.IngestErrorsTotal.WithLabelValues(kind).Inc()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return 0, fmt.Errorf("storing %s batch: %w", kind, err)
	}
	return inserted, nil
}
