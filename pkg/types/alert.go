package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Severity ranks how urgent a battery alert is.
type Severity string

// Severity constants.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities; higher is more urgent. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// BatteryAlert is a raised fleet-health event. Alerts are never deleted;
// acknowledgement is the only mutation.
type BatteryAlert struct {
	ID             string     `json:"id"                        db:"id"`
	DeviceID       string     `json:"device_id"                 db:"device_id"`
	AlertType      string     `json:"alert_type"                db:"alert_type"`
	Severity       Severity   `json:"severity"                  db:"severity"`
	Message        string     `json:"message"                   db:"message"`
	ReadingValue   float64    `json:"reading_value"             db:"reading_value"`
	ThresholdValue *float64   `json:"threshold_value,omitempty" db:"threshold_value"`
	Acknowledged   bool       `json:"acknowledged"              db:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"     db:"resolved_at"`
	ResolvedNotes  *string    `json:"resolved_notes,omitempty"  db:"resolved_notes"`
	CreatedAt      time.Time  `json:"created_at"                db:"created_at"`

	// Enrichment from device_battery_map, populated on reads only.
	VehicleNumber *string `json:"vehicle_number,omitempty" db:"vehicle_number"`
	CustomerName  *string `json:"customer_name,omitempty"  db:"customer_name"`
}

// AlertKey identifies a recurring condition for cooldown purposes.
type AlertKey struct {
	DeviceID  string
	AlertType string
	Severity  Severity
}

// Key returns the cooldown identity of the alert.
func (a *BatteryAlert) Key() AlertKey {
	return AlertKey{DeviceID: a.DeviceID, AlertType: a.AlertType, Severity: a.Severity}
}

// SuppressRecent drops candidates whose key is already in recent, and
// collapses candidates sharing a key to the first occurrence. Input order
// is preserved.
func SuppressRecent(candidates []BatteryAlert, recent []AlertKey) (kept []BatteryAlert, suppressed int) {
	seen := make(map[AlertKey]struct{}, len(recent)+len(candidates))
	for _, k := range recent {
		seen[k] = struct{}{}
	}
	for i := range candidates {
		k := candidates[i].Key()
		if _, dup := seen[k]; dup {
			suppressed++
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, candidates[i])
	}
	return kept, suppressed
}

// DedupBucket returns the start of the cooldown-width bucket containing t,
// aligned to the Unix epoch. It backs the store-level uniqueness constraint.
func DedupBucket(t time.Time, cooldown time.Duration) time.Time {
	if cooldown <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(cooldown)
}

// Threshold is one configurable alert limit.
type Threshold struct {
	Value    float64  `json:"value"    doc:"Threshold value"`
	Severity Severity `json:"severity" doc:"Severity raised when breached" enum:"critical,warning,info"`
	Label    string   `json:"label"    doc:"Display label"`
}

// AlertConfig maps alert keys (e.g. "low_soc") to thresholds. It is stored
// and replaced as a whole.
type AlertConfig map[string]Threshold

// Alert config keys.
const (
	KeyLowSOC               = "low_soc"
	KeyLowSOCWarning        = "low_soc_warning"
	KeyDeepDischarge        = "deep_discharge"
	KeyHighTemp             = "high_temp"
	KeyHighTempWarning      = "high_temp_warning"
	KeySOHDegradation       = "soh_degradation"
	KeyOvercurrent          = "overcurrent"
	KeyOvervoltage          = "overvoltage"
	KeyUndervoltage         = "undervoltage"
	KeyNoCommunicationHours = "no_communication_hours"
	KeyRapidSOHDrop         = "rapid_soh_drop"
	KeyExcessiveCycles      = "excessive_cycles"
)

// Alert types raised by the engine.
const (
	AlertHighTemperature = "High Temperature"
	AlertLowSOC          = "Low SOC"
	AlertDeepDischarge   = "Deep Discharge"
	AlertOvervoltage     = "Overvoltage"
	AlertUndervoltage    = "Undervoltage"
	AlertOvercurrent     = "Overcurrent"
	AlertSOHDegradation  = "SOH Degradation"
	AlertExcessiveCycles = "Excessive Charge Cycles"
	AlertNoCommunication = "No Communication"
	AlertRapidSOHDrop    = "Rapid SOH Drop"
)

// DefaultAlertConfig returns the built-in thresholds used until an operator
// stores a custom set.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		KeyLowSOC:               {Value: 5, Severity: SeverityCritical, Label: "Low SOC (%)"},
		KeyLowSOCWarning:        {Value: 15, Severity: SeverityWarning, Label: "Low SOC Warning (%)"},
		KeyDeepDischarge:        {Value: 0, Severity: SeverityCritical, Label: "Deep Discharge SOC (%)"},
		KeyHighTemp:             {Value: 55, Severity: SeverityCritical, Label: "High Temperature (°C)"},
		KeyHighTempWarning:      {Value: 45, Severity: SeverityWarning, Label: "Elevated Temperature (°C)"},
		KeySOHDegradation:       {Value: 80, Severity: SeverityWarning, Label: "SOH Degradation (%)"},
		KeyOvercurrent:          {Value: 100, Severity: SeverityWarning, Label: "Overcurrent (A)"},
		KeyOvervoltage:          {Value: 58.4, Severity: SeverityWarning, Label: "Overvoltage (V)"},
		KeyUndervoltage:         {Value: 42, Severity: SeverityCritical, Label: "Undervoltage (V)"},
		KeyNoCommunicationHours: {Value: 6, Severity: SeverityWarning, Label: "No Communication (hours)"},
		KeyRapidSOHDrop:         {Value: 5, Severity: SeverityCritical, Label: "Rapid SOH Drop (% in 30 days)"},
		KeyExcessiveCycles:      {Value: 1500, Severity: SeverityInfo, Label: "Excessive Charge Cycles"},
	}
}

// Metric names a BatteryReading field a rule is evaluated against.
type Metric string

// Metrics evaluated per reading.
const (
	MetricSOC         Metric = "soc"
	MetricSOH         Metric = "soh"
	MetricVoltage     Metric = "voltage"
	MetricCurrent     Metric = "current"
	MetricTemperature Metric = "temperature"
	MetricChargeCycle Metric = "charge_cycle"
)

// Value extracts the metric from a reading; ok is false when it is null.
func (m Metric) Value(r *BatteryReading) (float64, bool) {
	var p *float64
	switch m {
	case MetricSOC:
		p = r.SOC
	case MetricSOH:
		p = r.SOH
	case MetricVoltage:
		p = r.Voltage
	case MetricCurrent:
		p = r.Current
	case MetricTemperature:
		p = r.Temperature
	case MetricChargeCycle:
		if r.ChargeCycle == nil {
			return 0, false
		}
		return float64(*r.ChargeCycle), true
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// ReadingRule binds an alert config key to a per-reading comparison.
type ReadingRule struct {
	Key       string
	Metric    Metric
	AlertType string
	// Above rules fire when value >= threshold, otherwise when value <= threshold.
	Above bool
	// Abs compares the magnitude of the value (current flows both ways).
	Abs bool
}

// ReadingRules is evaluated in order; within an alert type, earlier rules win
// ties between equal severities. Rules of different types on the same metric
// fire independently.
var ReadingRules = []ReadingRule{
	{Key: KeyHighTemp, Metric: MetricTemperature, AlertType: AlertHighTemperature, Above: true},
	{Key: KeyHighTempWarning, Metric: MetricTemperature, AlertType: AlertHighTemperature, Above: true},
	{Key: KeyLowSOC, Metric: MetricSOC, AlertType: AlertLowSOC},
	{Key: KeyLowSOCWarning, Metric: MetricSOC, AlertType: AlertLowSOC},
	{Key: KeyDeepDischarge, Metric: MetricSOC, AlertType: AlertDeepDischarge},
	{Key: KeyOvervoltage, Metric: MetricVoltage, AlertType: AlertOvervoltage, Above: true},
	{Key: KeyUndervoltage, Metric: MetricVoltage, AlertType: AlertUndervoltage},
	{Key: KeyOvercurrent, Metric: MetricCurrent, AlertType: AlertOvercurrent, Above: true, Abs: true},
	{Key: KeySOHDegradation, Metric: MetricSOH, AlertType: AlertSOHDegradation},
	{Key: KeyExcessiveCycles, Metric: MetricChargeCycle, AlertType: AlertExcessiveCycles, Above: true},
}

// Breached reports whether value violates threshold under this rule.
func (r ReadingRule) Breached(value, threshold float64) bool {
	if r.Abs {
		value = math.Abs(value)
	}
	if r.Above {
		return value >= threshold
	}
	return value <= threshold
}

// knownKeys lists every key DefaultAlertConfig defines.
var knownKeys = func() map[string]struct{} {
	m := make(map[string]struct{})
	for k := range DefaultAlertConfig() {
		m[k] = struct{}{}
	}
	return m
}()

// Validate checks that every entry uses a known key, a valid severity and
// a finite value.
func (c AlertConfig) Validate() error {
	if len(c) == 0 {
		return errors.New("alert config must contain at least one threshold")
	}

	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		t := c[k]
		if _, ok := knownKeys[k]; !ok {
			errs = append(errs, fmt.Errorf("unknown alert key %q", k))
			continue
		}
		if !t.Severity.Valid() {
			errs = append(errs, fmt.Errorf("%s: severity must be critical, warning, or info (got %q)", k, t.Severity))
		}
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			errs = append(errs, fmt.Errorf("%s: value must be finite", k))
		}
	}
	return errors.Join(errs...)
}
