package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/notify"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const (
	defaultCooldown = 15 * time.Minute

	// batchThreshold is the per-device alert count at which notifications
	// are sent as a single batch message.
	batchThreshold = 5

	sohDropWindow = 30 * 24 * time.Hour
)

// AlertEngine evaluates readings against the alert config and stores the
// resulting alerts through the store's cooldown-aware insert.
type AlertEngine struct {
	store    store.Store
	notifier notify.Notifier
	cooldown time.Duration
	nowFunc  func() time.Time
	log      *slog.Logger
}

// AlertOption configures the AlertEngine.
type AlertOption func(*AlertEngine)

// WithCooldown sets the window in which a repeated alert key is suppressed.
func WithCooldown(d time.Duration) AlertOption {
	return func(e *AlertEngine) {
		if d > 0 {
			e.cooldown = d
		}
	}
}

// WithAlertNowFunc sets a custom time source (for testing).
func WithAlertNowFunc(fn func() time.Time) AlertOption {
	return func(e *AlertEngine) {
		e.nowFunc = fn
	}
}

// WithAlertLogger sets a custom logger.
func WithAlertLogger(l *slog.Logger) AlertOption {
	return func(e *AlertEngine) {
		e.log = l
	}
}

// NewAlertEngine creates an AlertEngine. A nil notifier disables
// notifications.
func NewAlertEngine(s store.Store, n notify.Notifier, opts ...AlertOption) *AlertEngine {
	e := &AlertEngine{
		store:    s,
		notifier: n,
		cooldown: defaultCooldown,
		nowFunc:  time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the alert candidates for one reading. For each alert type
// only the highest-severity breach is raised, so warning and critical never
// fire together; equal severities go to the rule listed first in
// domain.ReadingRules. Rules whose key is missing from cfg are skipped.
func Evaluate(cfg domain.AlertConfig, r *domain.BatteryReading, now time.Time) []domain.BatteryAlert {
	type pick struct {
		rule      domain.ReadingRule
		threshold domain.Threshold
		value     float64
	}

	var (
		order []string
		best  = make(map[string]pick)
	)
	for _, rule := range domain.ReadingRules {
		t, ok := cfg[rule.Key]
		if !ok {
			continue
		}
		v, ok := rule.Metric.Value(r)
		if !ok || !rule.Breached(v, t.Value) {
			continue
		}
		cur, seen := best[rule.AlertType]
		if !seen {
			order = append(order, rule.AlertType)
		}
		if !seen || t.Severity.Rank() > cur.threshold.Severity.Rank() {
			best[rule.AlertType] = pick{rule: rule, threshold: t, value: v}
		}
	}

	out := make([]domain.BatteryAlert, 0, len(order))
	for _, typ := range order {
		p := best[typ]
		threshold := p.threshold.Value
		out = append(out, domain.BatteryAlert{
			DeviceID:       r.DeviceID,
			AlertType:      p.rule.AlertType,
			Severity:       p.threshold.Severity,
			Message:        alertMessage(p.rule.Key, p.threshold, p.value),
			ReadingValue:   p.value,
			ThresholdValue: &threshold,
			CreatedAt:      now,
		})
	}
	return out
}

func alertMessage(key string, t domain.Threshold, value float64) string {
	v := formatValue(value)
	switch key {
	case domain.KeyHighTemp:
		return "Critical battery temperature detected: " + v + "°C"
	case domain.KeyHighTempWarning:
		return "Elevated battery temperature detected: " + v + "°C"
	case domain.KeyLowSOC:
		return "Battery critically low: " + v + "%"
	case domain.KeyLowSOCWarning:
		return "Battery low: " + v + "%"
	}
	label := t.Label
	if label == "" {
		label = key
	}
	return fmt.Sprintf("%s breached: %s (threshold %s)", label, v, formatValue(t.Value))
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Process evaluates readings, stores new alerts and notifies on them. A
// config load failure falls back to the defaults. It returns the alerts
// actually inserted after cooldown suppression.
func (e *AlertEngine) Process(ctx context.Context, readings []domain.BatteryReading) (created []domain.BatteryAlert, err error) {
	ctx, span := tracer.Start(ctx, "engine.ProcessAlerts")
	span.SetAttributes(attribute.Int("fleet.readings", len(readings)))
	defer func() { endSpan(span, err) }()

	cfg, err := e.store.GetAlertConfig(ctx)
	if err != nil {
		e.log.Warn("loading alert config failed, using defaults", "error", err)
		cfg = domain.DefaultAlertConfig()
	}

	now := e.nowFunc()
	var candidates []domain.BatteryAlert
	for i := range readings {
		candidates = append(candidates, Evaluate(cfg, &readings[i], now)...)
	}

	return e.insert(ctx, candidates, now)
}

// RunHealthChecks raises No Communication alerts for active devices silent
// longer than no_communication_hours, and Rapid SOH Drop alerts for devices
// whose daily SOH fell by at least rapid_soh_drop over 30 days. It returns
// the number of alerts created.
func (e *AlertEngine) RunHealthChecks(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "engine.RunHealthChecks")
	defer func() { endSpan(span, err) }()

	cfg, err := e.store.GetAlertConfig(ctx)
	if err != nil {
		e.log.Warn("loading alert config failed, using defaults", "error", err)
		cfg = domain.DefaultAlertConfig()
	}

	now := e.nowFunc()
	var (
		candidates []domain.BatteryAlert
		errs       []error
	)

	if t, ok := cfg[domain.KeyNoCommunicationHours]; ok && t.Value > 0 {
		window := time.Duration(t.Value * float64(time.Hour))
		stale, err := e.store.StaleDevices(ctx, now.Add(-window))
		if err != nil {
			errs = append(errs, fmt.Errorf("listing stale devices: %w", err))
		}
		for _, d := range stale {
			hours := now.Sub(d.LastSeen).Hours()
			threshold := t.Value
			candidates = append(candidates, domain.BatteryAlert{
				DeviceID:       d.DeviceID,
				AlertType:      domain.AlertNoCommunication,
				Severity:       t.Severity,
				Message:        "No data received for " + strconv.FormatFloat(hours, 'f', 1, 64) + " hours",
				ReadingValue:   hours,
				ThresholdValue: &threshold,
				CreatedAt:      now,
			})
		}
	}

	if t, ok := cfg[domain.KeyRapidSOHDrop]; ok && t.Value > 0 {
		changes, err := e.store.SOHChanges(ctx, now.Add(-sohDropWindow), t.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("computing soh changes: %w", err))
		}
		for _, c := range changes {
			drop := c.Drop()
			threshold := t.Value
			candidates = append(candidates, domain.BatteryAlert{
				DeviceID:  c.DeviceID,
				AlertType: domain.AlertRapidSOHDrop,
				Severity:  t.Severity,
				Message: fmt.Sprintf("SOH dropped %s points in 30 days (%s%% to %s%%)",
					strconv.FormatFloat(drop, 'f', 1, 64), formatValue(c.StartSOH), formatValue(c.EndSOH)),
				ReadingValue:   drop,
				ThresholdValue: &threshold,
				CreatedAt:      now,
			})
		}
	}

	created, err := e.insert(ctx, candidates, now)
	if err != nil {
		errs = append(errs, err)
	}

	e.log.Info("health checks complete", "candidates", len(candidates), "created", len(created))
	return len(created), errors.Join(errs...)
}

func (e *AlertEngine) insert(ctx context.Context, candidates []domain.BatteryAlert, now time.Time) ([]domain.BatteryAlert, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	created, err := e.store.InsertAlertsWithCooldown(ctx, candidates, now, e.cooldown)
	if err != nil {
		metrics.AlertErrorsTotal.Inc()
		return nil, fmt.Errorf("inserting alerts: %w", err)
	}

	for i := range created {
		metrics.AlertsCreatedTotal.WithLabelValues(created[i].AlertType, string(created[i].Severity)).Inc()
	}
	if suppressed := len(candidates) - len(created); suppressed > 0 {
		metrics.AlertsSuppressedTotal.Add(float64(suppressed))
	}

	e.notify(ctx, created)
	return created, nil
}

// notify sends created alerts to the notifier, grouped by device. Failures
// are counted and logged only.
func (e *AlertEngine) notify(ctx context.Context, created []domain.BatteryAlert) {
	if e.notifier == nil || len(created) == 0 {
		return
	}

	var (
		devices  []string
		grouped  = make(map[string][]notify.AlertPayload)
		mappings = make(map[string]*domain.DeviceBatteryMap)
	)
	for i := range created {
		a := &created[i]
		if _, ok := grouped[a.DeviceID]; !ok {
			devices = append(devices, a.DeviceID)
			mappings[a.DeviceID] = e.mapping(ctx, a.DeviceID)
		}
		grouped[a.DeviceID] = append(grouped[a.DeviceID], notify.NewAlertPayload(a, mappings[a.DeviceID]))
	}

	for _, id := range devices {
		payloads := grouped[id]
		var err error
		if len(payloads) >= batchThreshold {
			err = e.notifier.SendBatchAlert(ctx, payloads, fmt.Sprintf("%d alerts for device %s", len(payloads), id))
		} else {
			for i := range payloads {
				if err = e.notifier.SendAlert(ctx, &payloads[i]); err != nil {
					break
				}
			}
		}
		if err != nil {
			metrics.NotificationFailuresTotal.Inc()
			e.log.Warn("sending alert notification failed", "device_id", id, "error", err)
		}
	}
}

func (e *AlertEngine) mapping(ctx context.Context, deviceID string) *domain.DeviceBatteryMap {
	m, err := e.store.GetDeviceMapping(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Warn("loading device mapping failed", "device_id", deviceID, "error", err)
		}
		return nil
	}
	return m
}
