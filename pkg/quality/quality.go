// Package quality separates valid telemetry from anomalous sensor readings.
// Everything here is pure: no I/O, no shared state.
package quality

import (
	"fmt"
	"math"
	"strconv"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// ReasonNoData is the rejection reason for readings without any metric when
// empty readings are rejected.
const ReasonNoData = "no battery metrics present"

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds are the domain-sanity limits for CAN readings.
type Bounds struct {
	SOC         Range `yaml:"soc"`
	Voltage     Range `yaml:"voltage"`
	Current     Range `yaml:"current"`
	Temperature Range `yaml:"temperature"`
}

// DefaultBounds returns limits tuned for a 48V nominal pack.
func DefaultBounds() Bounds {
	return Bounds{
		SOC:         Range{Min: 0, Max: 100},
		Voltage:     Range{Min: 20, Max: 80},
		Current:     Range{Min: -150, Max: 300},
		Temperature: Range{Min: -20, Max: 85},
	}
}

// Validator classifies battery readings against a set of bounds.
type Validator struct {
	Bounds Bounds
	// RejectEmpty rejects readings that carry no metric at all.
	RejectEmpty bool
}

// NewValidator returns a Validator using DefaultBounds.
func NewValidator() *Validator {
	return &Validator{Bounds: DefaultBounds()}
}

// Classify returns "" when the reading is valid, otherwise the reason for
// the first failing bound. Bounds are checked in the order soc, voltage,
// current, temperature.
func (v *Validator) Classify(r *domain.BatteryReading) string {
	b := v.Bounds

	if r.SOC != nil && !b.SOC.Contains(*r.SOC) {
		return fmt.Sprintf("SOC out of range: %s%% (expected %s–%s%%)",
			num(*r.SOC), num(b.SOC.Min), num(b.SOC.Max))
	}
	if r.Voltage != nil && !b.Voltage.Contains(*r.Voltage) {
		return fmt.Sprintf("Voltage out of range: %sV (expected %s–%sV for 48V system)",
			num(*r.Voltage), num(b.Voltage.Min), num(b.Voltage.Max))
	}
	if r.Current != nil && !b.Current.Contains(*r.Current) {
		return fmt.Sprintf("Current out of range: %sA (expected %s to %sA)",
			num(*r.Current), num(b.Current.Min), signed(b.Current.Max))
	}
	if r.Temperature != nil && !b.Temperature.Contains(*r.Temperature) {
		return fmt.Sprintf("Temperature out of range: %s°C (expected %s to %s°C)",
			num(*r.Temperature), num(b.Temperature.Min), signed(b.Temperature.Max))
	}
	if v.RejectEmpty && r.Empty() {
		return ReasonNoData
	}
	return ""
}

// Classify checks a reading against DefaultBounds.
func Classify(r *domain.BatteryReading) string {
	return defaultValidator.Classify(r)
}

var defaultValidator = NewValidator()

// Rejection pairs a rejected reading with its input position and reason.
type Rejection[T any] struct {
	Index   int
	Reading T
	Reason  string
}

// Result partitions a batch. Both lists keep input order.
type Result[T any] struct {
	Valid    []T
	Rejected []Rejection[T]
}

// ClassifyBatch applies Classify across readings.
func (v *Validator) ClassifyBatch(readings []domain.BatteryReading) Result[domain.BatteryReading] {
	res := Result[domain.BatteryReading]{
		Valid: make([]domain.BatteryReading, 0, len(readings)),
	}
	for i := range readings {
		if reason := v.Classify(&readings[i]); reason != "" {
			res.Rejected = append(res.Rejected, Rejection[domain.BatteryReading]{
				Index: i, Reading: readings[i], Reason: reason,
			})
			continue
		}
		res.Valid = append(res.Valid, readings[i])
	}
	return res
}

// ClassifyBatch partitions readings using DefaultBounds.
func ClassifyBatch(readings []domain.BatteryReading) Result[domain.BatteryReading] {
	return defaultValidator.ClassifyBatch(readings)
}

// ClassifyGPS returns "" when the position is usable, otherwise why not.
func ClassifyGPS(g *domain.GPSReading) string {
	if g.Latitude == nil || g.Longitude == nil {
		return "missing coordinates"
	}
	lat, lon := *g.Latitude, *g.Longitude
	switch {
	case !finite(lat) || !finite(lon):
		return "non-finite coordinates"
	case lat == 0 && lon == 0:
		return "zero coordinates"
	case lat < -90 || lat > 90:
		return fmt.Sprintf("latitude out of range: %s", num(lat))
	case lon < -180 || lon > 180:
		return fmt.Sprintf("longitude out of range: %s", num(lon))
	}
	return ""
}

// ClassifyGPSBatch partitions GPS readings; valid readings get IsMoving derived.
func ClassifyGPSBatch(readings []domain.GPSReading) Result[domain.GPSReading] {
	res := Result[domain.GPSReading]{
		Valid: make([]domain.GPSReading, 0, len(readings)),
	}
	for i := range readings {
		if reason := ClassifyGPS(&readings[i]); reason != "" {
			res.Rejected = append(res.Rejected, Rejection[domain.GPSReading]{
				Index: i, Reading: readings[i], Reason: reason,
			})
			continue
		}
		g := readings[i]
		g.DeriveMotion()
		res.Valid = append(res.Valid, g)
	}
	return res
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func signed(f float64) string {
	if f > 0 {
		return "+" + num(f)
	}
	return num(f)
}
