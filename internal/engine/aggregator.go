package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
)

const defaultRefreshWindow = 48 * time.Hour

// Aggregator refreshes the hourly and daily rollups.
type Aggregator struct {
	store   store.Store
	window  time.Duration
	nowFunc func() time.Time
	log     *slog.Logger
}

// AggregatorOption configures the Aggregator.
type AggregatorOption func(*Aggregator)

// WithRefreshWindow sets how far back each refresh recomputes.
func WithRefreshWindow(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithAggregatorNowFunc sets a custom time source (for testing).
func WithAggregatorNowFunc(fn func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.nowFunc = fn
	}
}

// WithAggregatorLogger sets a custom logger.
func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.log = l
	}
}

// NewAggregator creates an Aggregator over s.
func NewAggregator(s store.Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:   s,
		window:  defaultRefreshWindow,
		nowFunc: time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Window returns the range the next refresh covers: from the start of the
// UTC day containing now-window up to now, so daily buckets are always
// recomputed whole.
func (a *Aggregator) Window() (from, to time.Time) {
	to = a.nowFunc().UTC()
	from = to.Add(-a.window).Truncate(24 * time.Hour)
	return from, to
}

// Refresh recomputes rollups over Window. A database without continuous
// aggregates is not an error; reads fall back to raw readings.
func (a *Aggregator) Refresh(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "engine.RefreshAggregates")
	defer func() { endSpan(span, err) }()

	from, to := a.Window()
	start := time.Now()

	err = a.store.RefreshAggregates(ctx, from, to)
	metrics.AggregateRefreshDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, store.ErrAggregatesUnavailable):
		a.log.Info("continuous aggregates unavailable, skipping refresh")
		return nil
	case err != nil:
		metrics.AggregateRefreshFailuresTotal.Inc()
		return fmt.Errorf("refreshing aggregates: %w", err)
	}

	a.log.Info("aggregates refreshed", "from", from, "to", to, "duration", time.Since(start))
	return nil
}
