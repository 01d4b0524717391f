package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/telematics"
)

const (
	defaultPollConcurrency = 10
	minPollConcurrency     = 5
	maxPollConcurrency     = 20
	defaultPollInterval    = 30 * time.Minute
)

// PollResult summarizes one fleet poll.
type PollResult struct {
	Devices         int           `json:"devices"`
	Failed          int           `json:"failed"`
	BatteryInserted int           `json:"battery_inserted"`
	GPSInserted     int           `json:"gps_inserted"`
	Rejected        int           `json:"rejected"`
	Duration        time.Duration `json:"duration"`
}

// Rows returns the number of rows the poll stored.
func (r *PollResult) Rows() int {
	return r.BatteryInserted + r.GPSInserted
}

// Poller pulls recent history for every provider device and feeds it to
// the Ingester. Devices are fetched concurrently with a bounded pool.
type Poller struct {
	source      telematics.Source
	ingester    *Ingester
	concurrency int
	interval    time.Duration
	nowFunc     func() time.Time
	log         *slog.Logger
}

// PollerOption configures the Poller.
type PollerOption func(*Poller)

// WithConcurrency sets how many devices are fetched at once. Values are
// clamped to [5, 20].
func WithConcurrency(n int) PollerOption {
	return func(p *Poller) {
		p.concurrency = min(max(n, minPollConcurrency), maxPollConcurrency)
	}
}

// WithPollInterval sets the poll cadence. Each poll covers the last two
// intervals so a missed run leaves no gap.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollNowFunc sets a custom time source (for testing).
func WithPollNowFunc(fn func() time.Time) PollerOption {
	return func(p *Poller) {
		p.nowFunc = fn
	}
}

// WithPollLogger sets a custom logger.
func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.log = l
	}
}

// NewPoller creates a Poller reading from src.
func NewPoller(src telematics.Source, in *Ingester, opts ...PollerOption) *Poller {
	p := &Poller{
		source:      src,
		ingester:    in,
		concurrency: defaultPollConcurrency,
		interval:    defaultPollInterval,
		nowFunc:     time.Now,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll runs one fleet poll over [now - 2*interval, now]. Per-device
// failures are logged, counted and skipped. Hitting the provider's daily
// quota stops the remaining devices and is returned as an error.
func (p *Poller) Poll(ctx context.Context) (res *PollResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.Poll")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	devices, err := p.source.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing provider devices: %w", err)
	}
	span.SetAttributes(attribute.Int("fleet.devices", len(devices)))

	to := p.nowFunc()
	from := to.Add(-2 * p.interval)

	res = &PollResult{Devices: len(devices)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, d := range devices {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			battery, gps, rejected, err := p.pollDevice(gctx, d.DeviceID, from, to)
			metrics.PollDevicesTotal.Inc()

			mu.Lock()
			defer mu.Unlock()
			res.BatteryInserted += battery
			res.GPSInserted += gps
			res.Rejected += rejected

			if err == nil {
				return nil
			}
			res.Failed++
			metrics.PollDeviceErrorsTotal.Inc()
			p.log.Warn("polling device failed", "device_id", d.DeviceID, "error", err)

			if errors.Is(err, telematics.ErrDailyLimitReached) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	res.Duration = time.Since(start)

	p.log.Info("fleet poll complete",
		"devices", res.Devices,
		"failed", res.Failed,
		"battery_inserted", res.BatteryInserted,
		"gps_inserted", res.GPSInserted,
		"duration", res.Duration,
	)

	if err != nil {
		return res, fmt.Errorf("polling fleet: %w", err)
	}
	return res, nil
}

func (p *Poller) pollDevice(ctx context.Context, deviceID string, from, to time.Time) (battery, gps, rejected int, err error) {
	readings, err := p.source.BatteryHistory(ctx, deviceID, from, to)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetching battery history: %w", err)
	}
	if len(readings) > 0 {
		res, err := p.ingester.IngestBatteryReadings(ctx, readings)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("ingesting battery history: %w", err)
		}
		battery, rejected = res.Inserted, res.Rejected
	}

	positions, err := p.source.GPSHistory(ctx, deviceID, from, to)
	if err != nil {
		return battery, 0, rejected, fmt.Errorf("fetching gps history: %w", err)
	}
	if len(positions) > 0 {
		res, err := p.ingester.IngestGPSReadings(ctx, positions)
		if err != nil {
			return battery, 0, rejected, fmt.Errorf("ingesting gps history: %w", err)
		}
		gps = res.Inserted
		rejected += res.Rejected
	}

	return battery, gps, rejected, nil
}
