// Package rollup computes per-device time-bucket aggregates directly from
// raw battery readings. It is the reference computation that materialized
// aggregates must agree with.
package rollup

import (
	"sort"
	"time"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

type key struct {
	device string
	bucket time.Time
}

type stat struct {
	sum, min, max float64
	n             int
}

func (s *stat) add(p *float64) {
	if p == nil {
		return
	}
	v := *p
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.sum += v
	s.n++
}

func (s *stat) avg() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.sum / float64(s.n)
	return &v
}

func (s *stat) lo() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.min
	return &v
}

func (s *stat) hi() *float64 {
	if s.n == 0 {
		return nil
	}
	v := s.max
	return &v
}

type acc struct {
	soc, soh, voltage, current, temperature stat
	maxCycle                                *int
	count                                   int
}

// Truncate returns the UTC start of the bucket containing t.
func Truncate(t time.Time, width domain.Bucket) time.Time {
	t = t.UTC()
	if width == domain.BucketDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Bucketize groups readings by (device, bucket) and returns aggregates
// ordered by device then bucket. Null metrics are excluded from their
// averages; reading_count counts every reading.
func Bucketize(readings []domain.BatteryReading, width domain.Bucket) []domain.Aggregate {
	groups := make(map[key]*acc)
	for i := range readings {
		r := &readings[i]
		k := key{device: r.DeviceID, bucket: Truncate(r.Time, width)}
		a, ok := groups[k]
		if !ok {
			a = &acc{}
			groups[k] = a
		}
		a.count++
		a.soc.add(r.SOC)
		a.soh.add(r.SOH)
		a.voltage.add(r.Voltage)
		a.current.add(r.Current)
		a.temperature.add(r.Temperature)
		if r.ChargeCycle != nil && (a.maxCycle == nil || *r.ChargeCycle > *a.maxCycle) {
			c := *r.ChargeCycle
			a.maxCycle = &c
		}
	}

	out := make([]domain.Aggregate, 0, len(groups))
	for k, a := range groups {
		out = append(out, domain.Aggregate{
			Bucket:         k.bucket,
			DeviceID:       k.device,
			AvgSOC:         a.soc.avg(),
			MinSOC:         a.soc.lo(),
			MaxSOC:         a.soc.hi(),
			AvgSOH:         a.soh.avg(),
			MinSOH:         a.soh.lo(),
			MaxSOH:         a.soh.hi(),
			AvgVoltage:     a.voltage.avg(),
			MinVoltage:     a.voltage.lo(),
			MaxVoltage:     a.voltage.hi(),
			AvgCurrent:     a.current.avg(),
			MinCurrent:     a.current.lo(),
			MaxCurrent:     a.current.hi(),
			AvgTemperature: a.temperature.avg(),
			MinTemperature: a.temperature.lo(),
			MaxTemperature: a.temperature.hi(),
			MaxChargeCycle: a.maxCycle,
			ReadingCount:   a.count,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Bucket.Before(out[j].Bucket)
	})
	return out
}
