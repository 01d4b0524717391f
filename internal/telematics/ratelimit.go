package telematics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
)

// ErrDailyLimitReached is returned once the provider quota for the current
// UTC day is used up.
var ErrDailyLimitReached = errors.New("daily provider API limit reached")

// RateLimiter paces provider calls with a token bucket and enforces the
// provider's per-day call quota, which resets at midnight UTC. A zero
// quota disables the daily check.
type RateLimiter struct {
	bucket *rate.Limiter
	quota  int64
	now    func() time.Time

	mu   sync.Mutex
	day  time.Time
	used int64
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterNowFunc overrides the clock.
func WithRateLimiterNowFunc(f func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) { r.now = f }
}

// NewRateLimiter allows perSecond calls with the given burst and at most
// dailyQuota calls per UTC day.
func NewRateLimiter(perSecond float64, burst int, dailyQuota int64, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
		quota:  dailyQuota,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.day = utcDay(r.now())
	return r
}

// Wait claims one call from today's quota, then blocks until the token
// bucket admits it. The claim is returned if ctx ends first, so concurrent
// pollers never exceed the quota.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.claim(); err != nil {
		return err
	}
	if err := r.bucket.Wait(ctx); err != nil {
		r.release()
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// DailyCount returns the calls claimed so far today.
func (r *RateLimiter) DailyCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()
	return r.used
}

// Remaining returns the calls left today, or -1 when there is no quota.
func (r *RateLimiter) Remaining() int64 {
	if r.quota <= 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()
	return max(r.quota-r.used, 0)
}

// ResetsAt is the next midnight UTC.
func (r *RateLimiter) ResetsAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollover()
	return r.day.AddDate(0, 0, 1)
}

func (r *RateLimiter) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollover()
	if r.quota > 0 && r.used >= r.quota {
		return fmt.Errorf("%w (%d/%d, resets %s)", ErrDailyLimitReached,
			r.used, r.quota, r.day.AddDate(0, 0, 1).Format(time.RFC3339))
	}
	r.used++
	metrics.ProviderDailyUsage.Set(float64(r.used))
	return nil
}

func (r *RateLimiter) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used > 0 {
		r.used--
		metrics.ProviderDailyUsage.Set(float64(r.used))
	}
}

// rollover zeroes the count when the UTC day has changed. Callers hold mu.
func (r *RateLimiter) rollover() {
	if today := utcDay(r.now()); today.After(r.day) {
		r.day = today
		r.used = 0
		metrics.ProviderDailyUsage.Set(0)
	}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
