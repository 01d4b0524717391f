package telematics

import (
	"encoding/json"
	"strconv"
	"strings"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// sourcePoll tags readings fetched by the poller.
const sourcePoll = "poll"

// Provider field names, most specific first. Vendors report the BMS pack
// metrics under bms1* and fall back to generic names on older firmware.
var (
	timeFields        = []string{"time", "timestamp", "ts", "commtime"}
	batteryIDFields   = []string{"batteryid", "battery_id"}
	socFields         = []string{"bms1soc", "soc", "SOC", "battery_soc"}
	sohFields         = []string{"bms1soh", "soh", "SOH", "battery_soh"}
	voltageFields     = []string{"bms1v", "battery_voltage", "voltage", "batt_vol"}
	currentFields     = []string{"bms1c", "current", "battery_current", "batt_cur"}
	temperatureFields = []string{"bms1temp", "battery_temp", "temperature", "batt_temp", "temp"}
	cycleFields       = []string{"bms1cycles", "charge_cycle", "cycles"}
	powerFields       = []string{"power_watts", "power"}

	latFields            = []string{"latitude", "lat"}
	lngFields            = []string{"longitude", "lng", "lon"}
	altitudeFields       = []string{"altitude", "alt"}
	speedFields          = []string{"speed"}
	headingFields        = []string{"heading", "course"}
	deviceBatteryFields  = []string{"devbattery", "device_battery"}
	vehicleBatteryFields = []string{"carbattery", "vehicle_battery"}
	ignitionFields       = []string{"ignstatus", "ignition", "ignition_on"}

	vehicleNoFields = []string{"vehicleno", "vehicle_no", "vehicle_number"}
	deviceNoFields  = []string{"deviceno", "device_no", "imei"}
)

type record map[string]json.RawMessage

// number returns the first of keys holding a usable number. Values may be
// JSON numbers, numeric strings, or {"value": n} objects.
func (r record) number(keys ...string) *float64 {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		if v, ok := parseNumber(raw); ok {
			return &v
		}
	}
	return nil
}

func (r record) text(keys ...string) string {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		if v, ok := parseNumber(raw); ok {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func (r record) flag(keys ...string) *bool {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return &b
		}
		if v, ok := parseNumber(raw); ok {
			on := v == 1
			return &on
		}
	}
	return nil
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case map[string]any:
		if inner, ok := t["value"]; ok {
			b, err := json.Marshal(inner)
			if err != nil {
				return 0, false
			}
			return parseNumber(b)
		}
	}
	return 0, false
}

// NormalizeBattery maps a provider battery record onto a BatteryReading.
// Missing metrics stay nil; power is derived from voltage and current when
// the provider omits it.
func NormalizeBattery(deviceID string, raw json.RawMessage) (domain.BatteryReading, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.BatteryReading{}, err
	}

	r := domain.BatteryReading{
		DeviceID:    deviceID,
		SOC:         rec.number(socFields...),
		SOH:         rec.number(sohFields...),
		Voltage:     rec.number(voltageFields...),
		Current:     rec.number(currentFields...),
		Temperature: rec.number(temperatureFields...),
		PowerWatts:  rec.number(powerFields...),
		Source:      sourcePoll,
		Raw:         raw,
	}
	if id := rec.text(batteryIDFields...); id != "" {
		r.BatteryID = &id
	}
	if c := rec.number(cycleFields...); c != nil {
		n := int(*c)
		r.ChargeCycle = &n
	}
	if r.PowerWatts == nil && r.Voltage != nil && r.Current != nil {
		p := *r.Voltage * *r.Current
		r.PowerWatts = &p
	}

	t, err := domain.ParseTime(rec.first(timeFields...))
	if err != nil {
		return domain.BatteryReading{}, err
	}
	r.Time = t
	return r, nil
}

// NormalizeGPS maps a provider GPS record onto a GPSReading.
func NormalizeGPS(deviceID string, raw json.RawMessage) (domain.GPSReading, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.GPSReading{}, err
	}

	g := domain.GPSReading{
		DeviceID:       deviceID,
		Latitude:       rec.number(latFields...),
		Longitude:      rec.number(lngFields...),
		Altitude:       rec.number(altitudeFields...),
		Speed:          rec.number(speedFields...),
		Heading:        rec.number(headingFields...),
		DeviceBattery:  rec.number(deviceBatteryFields...),
		VehicleBattery: rec.number(vehicleBatteryFields...),
		IgnitionOn:     rec.flag(ignitionFields...),
		Raw:            raw,
	}
	g.DeriveMotion()

	t, err := domain.ParseTime(rec.first(timeFields...))
	if err != nil {
		return domain.GPSReading{}, err
	}
	g.Time = t
	return g, nil
}

// NormalizeDevice maps a vehicle/device mapping record onto a Device. The
// vehicle number is the device identity used throughout the fleet.
func NormalizeDevice(raw json.RawMessage) (Device, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Device{}, err
	}
	vehicle := rec.text(vehicleNoFields...)
	return Device{
		DeviceID:      vehicle,
		VehicleNumber: vehicle,
		DeviceNumber:  rec.text(deviceNoFields...),
	}, nil
}

func (r record) first(keys ...string) json.RawMessage {
	for _, k := range keys {
		if raw, ok := r[k]; ok {
			return raw
		}
	}
	return nil
}
