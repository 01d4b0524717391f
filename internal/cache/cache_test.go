package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func setupCache(t *testing.T, opts ...Option) (*miniredis.Miniredis, *LatestCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, opts...)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLatestCache_PutBattery_KeepsNewestPerDevice(t *testing.T) {
	t.Parallel()
	_, c := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutBattery(ctx, []domain.BatteryReading{
		{DeviceID: "D1", Time: t0.Add(time.Minute), SOC: ptr(41.0)},
		{DeviceID: "D1", Time: t0, SOC: ptr(42.0)},
		{DeviceID: "D2", Time: t0, SOC: ptr(90.0)},
	}))

	got, err := c.Battery(ctx, "D1")
	require.NoError(t, err)
	assert.InDelta(t, 41.0, *got.SOC, 1e-9)
	assert.True(t, t0.Add(time.Minute).Equal(got.Time))
	assert.Nil(t, got.Raw)

	got, err = c.Battery(ctx, "D2")
	require.NoError(t, err)
	assert.InDelta(t, 90.0, *got.SOC, 1e-9)
}

func TestLatestCache_OlderReadingDoesNotOverwrite(t *testing.T) {
	t.Parallel()
	_, c := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutBattery(ctx, []domain.BatteryReading{{DeviceID: "D1", Time: t0, SOC: ptr(50.0)}}))
	require.NoError(t, c.PutBattery(ctx, []domain.BatteryReading{{DeviceID: "D1", Time: t0.Add(-time.Hour), SOC: ptr(99.0)}}))

	got, err := c.Battery(ctx, "D1")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, *got.SOC, 1e-9)
}

func TestLatestCache_Miss(t *testing.T) {
	t.Parallel()
	_, c := setupCache(t)

	_, err := c.Battery(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.GPS(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestCache_GPSAndTTL(t *testing.T) {
	t.Parallel()
	mr, c := setupCache(t, WithPrefix("test"), WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, c.PutGPS(ctx, []domain.GPSReading{
		{DeviceID: "D1", Time: t0, Latitude: ptr(12.97), Longitude: ptr(77.59), IsMoving: true},
	}))

	assert.True(t, mr.Exists("test:latest:gps:D1"))
	assert.Equal(t, time.Minute, mr.TTL("test:latest:gps:D1"))

	got, err := c.GPS(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, got.IsMoving)

	mr.FastForward(2 * time.Minute)
	_, err = c.GPS(ctx, "D1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestCache_RedisDown(t *testing.T) {
	t.Parallel()
	mr, c := setupCache(t)
	mr.Close()

	err := c.PutBattery(context.Background(), []domain.BatteryReading{{DeviceID: "D1", Time: t0}})
	assert.Error(t, err)
}
