package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotArray is returned when an ingest payload is not a JSON array.
var ErrNotArray = errors.New("payload is not a JSON array")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// DecodeArray splits a JSON array payload into its raw elements without
// decoding them, so that one bad element cannot fail the whole batch.
func DecodeArray(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotArray, err)
	}
	return items, nil
}

// ParseTime accepts an RFC 3339 (or space-separated) timestamp string, or a
// Unix epoch number in seconds or milliseconds. Null or empty yields the zero
// time.
func ParseTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %s", string(raw))
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	return time.Unix(int64(n), 0).UTC(), nil
}

// UnmarshalJSON decodes a reading, accepting flexible timestamp formats and
// keeping the raw payload.
func (r *BatteryReading) UnmarshalJSON(data []byte) error {
	type alias BatteryReading
	aux := struct {
		Time json.RawMessage `json:"time"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTime(aux.Time)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	r.Time = t
	r.Raw = append(r.Raw[:0], data...)
	return nil
}

// UnmarshalJSON decodes a GPS reading; see BatteryReading.UnmarshalJSON.
func (g *GPSReading) UnmarshalJSON(data []byte) error {
	type alias GPSReading
	aux := struct {
		Time json.RawMessage `json:"time"`
		*alias
	}{alias: (*alias)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := ParseTime(aux.Time)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	g.Time = t
	g.Raw = append(g.Raw[:0], data...)
	return nil
}

// UnmarshalJSON decodes a trip summary with flexible timestamps.
func (t *TripSummary) UnmarshalJSON(data []byte) error {
	type alias TripSummary
	aux := struct {
		StartTime json.RawMessage `json:"start_time"`
		EndTime   json.RawMessage `json:"end_time"`
		*alias
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if t.StartTime, err = ParseTime(aux.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if t.EndTime, err = ParseTime(aux.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	return nil
}

// UnmarshalJSON decodes an energy summary with flexible timestamps.
func (e *EnergySummary) UnmarshalJSON(data []byte) error {
	type alias EnergySummary
	aux := struct {
		StartTime json.RawMessage `json:"start_time"`
		EndTime   json.RawMessage `json:"end_time"`
		*alias
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if e.StartTime, err = ParseTime(aux.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if e.EndTime, err = ParseTime(aux.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	return nil
}

// MissingSummaryFields reports which required fields of a trip or energy
// summary are absent, or "" when the summary is complete.
func MissingSummaryFields(deviceID string, start, end time.Time) string {
	switch {
	case deviceID == "":
		return "missing device_id"
	case start.IsZero():
		return "missing start_time"
	case end.IsZero():
		return "missing end_time"
	default:
		return ""
	}
}
