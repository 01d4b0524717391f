// Package cache keeps the newest battery and GPS reading per device in
// Redis so dashboard "latest" reads skip the hypertable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const (
	defaultPrefix = "fleet"
	defaultTTL    = 24 * time.Hour
)

// putNewer stores ARGV[2] under KEYS[1] only when ARGV[1] (reading time in
// microseconds) is newer than what is already cached. Out-of-order
// deliveries therefore never overwrite a fresher value.
var putNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'data', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// LatestCache is a Redis-backed latest-reading cache.
type LatestCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a LatestCache.
type Option func(*LatestCache)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *LatestCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL sets how long an entry survives without updates. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *LatestCache) {
		c.ttl = ttl
	}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *LatestCache {
	c := &LatestCache{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping verifies Redis is reachable.
func (c *LatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// PutBattery caches the newest reading per device from readings.
func (c *LatestCache) PutBattery(ctx context.Context, readings []domain.BatteryReading) error {
	newest := make(map[string]domain.BatteryReading)
	for _, r := range readings {
		if cur, ok := newest[r.DeviceID]; !ok || r.Time.After(cur.Time) {
			r.Raw = nil
			newest[r.DeviceID] = r
		}
	}

	var errs []error
	for id, r := range newest {
		if err := c.put(ctx, c.key("battery", id), r.Time, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PutGPS caches the newest position per device from readings.
func (c *LatestCache) PutGPS(ctx context.Context, readings []domain.GPSReading) error {
	newest := make(map[string]domain.GPSReading)
	for _, g := range readings {
		if cur, ok := newest[g.DeviceID]; !ok || g.Time.After(cur.Time) {
			g.Raw = nil
			newest[g.DeviceID] = g
		}
	}

	var errs []error
	for id, g := range newest {
		if err := c.put(ctx, c.key("gps", id), g.Time, g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Battery returns the cached latest battery reading, or domain.ErrNotFound.
func (c *LatestCache) Battery(ctx context.Context, deviceID string) (*domain.BatteryReading, error) {
	var r domain.BatteryReading
	if err := c.get(ctx, c.key("battery", deviceID), &r); err != nil {
		return nil, err
	}
	r.Raw = nil
	return &r, nil
}

// GPS returns the cached latest position, or domain.ErrNotFound.
func (c *LatestCache) GPS(ctx context.Context, deviceID string) (*domain.GPSReading, error) {
	var g domain.GPSReading
	if err := c.get(ctx, c.key("gps", deviceID), &g); err != nil {
		return nil, err
	}
	g.Raw = nil
	return &g, nil
}

func (c *LatestCache) key(kind, deviceID string) string {
	return fmt.Sprintf("%s:latest:%s:%s", c.prefix, kind, deviceID)
}

func (c *LatestCache) put(ctx context.Context, key string, at time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := putNewer.Run(ctx, c.client, []string{key},
		at.UnixMicro(), data, c.ttl.Milliseconds(),
	).Err(); err != nil {
		return fmt.Errorf("caching %s: %w", key, err)
	}
	return nil
}

func (c *LatestCache) get(ctx context.Context, key string, v any) error {
	data, err := c.client.HGet(ctx, key, "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}
