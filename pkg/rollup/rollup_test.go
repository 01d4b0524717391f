package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func reading(device string, at time.Time, soc float64) domain.BatteryReading {
	return domain.BatteryReading{DeviceID: device, Time: at, SOC: ptr(soc)}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 13, 47, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), Truncate(at, domain.BucketHour))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Truncate(at, domain.BucketDay))

	ist := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2026, 3, 2, 2, 0, 0, 0, ist) // 2026-03-01 20:30 UTC
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Truncate(local, domain.BucketDay))
}

func TestBucketize_HourlyMeanMatchesRaw(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	socs := []float64{80, 72.5, 64, 61.25, 55}

	var readings []domain.BatteryReading
	var sum float64
	for i, soc := range socs {
		readings = append(readings, reading("D1", base.Add(time.Duration(i)*10*time.Minute), soc))
		sum += soc
	}
	// One reading in the next hour must not leak into the first bucket.
	readings = append(readings, reading("D1", base.Add(65*time.Minute), 10))

	aggs := Bucketize(readings, domain.BucketHour)

	require.Len(t, aggs, 2)
	first := aggs[0]
	assert.Equal(t, base, first.Bucket)
	assert.Equal(t, len(socs), first.ReadingCount)
	assert.InDelta(t, sum/float64(len(socs)), *first.AvgSOC, 1e-9)
	assert.InDelta(t, 55.0, *first.MinSOC, 1e-9)
	assert.InDelta(t, 80.0, *first.MaxSOC, 1e-9)
	assert.Equal(t, 1, aggs[1].ReadingCount)
}

func TestBucketize_NullsExcludedFromAverages(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	readings := []domain.BatteryReading{
		{DeviceID: "D1", Time: at, SOC: ptr(40.0), ChargeCycle: ptr(10)},
		{DeviceID: "D1", Time: at.Add(time.Minute), Temperature: ptr(30.0), ChargeCycle: ptr(12)},
		{DeviceID: "D1", Time: at.Add(2 * time.Minute)},
	}

	aggs := Bucketize(readings, domain.BucketHour)

	require.Len(t, aggs, 1)
	a := aggs[0]
	assert.Equal(t, 3, a.ReadingCount)
	assert.InDelta(t, 40.0, *a.AvgSOC, 1e-9)
	assert.InDelta(t, 30.0, *a.AvgTemperature, 1e-9)
	assert.Nil(t, a.AvgVoltage)
	assert.Nil(t, a.MinCurrent)
	assert.Equal(t, 12, *a.MaxChargeCycle)
}

func TestBucketize_OrderedByDeviceThenBucket(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	readings := []domain.BatteryReading{
		reading("D2", day.Add(30*time.Hour), 50),
		reading("D1", day.Add(26*time.Hour), 50),
		reading("D2", day.Add(2*time.Hour), 50),
		reading("D1", day.Add(3*time.Hour), 50),
	}

	aggs := Bucketize(readings, domain.BucketDay)

	require.Len(t, aggs, 4)
	assert.Equal(t, "D1", aggs[0].DeviceID)
	assert.Equal(t, day, aggs[0].Bucket)
	assert.Equal(t, "D1", aggs[1].DeviceID)
	assert.Equal(t, day.AddDate(0, 0, 1), aggs[1].Bucket)
	assert.Equal(t, "D2", aggs[2].DeviceID)
	assert.Equal(t, "D2", aggs[3].DeviceID)
}
