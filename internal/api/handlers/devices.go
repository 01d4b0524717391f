package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// LatestReader serves the newest readings per device, typically from Redis.
type LatestReader interface {
	Battery(ctx context.Context, deviceID string) (*domain.BatteryReading, error)
	GPS(ctx context.Context, deviceID string) (*domain.GPSReading, error)
}

// DevicesHandler serves per-device dashboard reads and the mapping table.
type DevicesHandler struct {
	store  store.Store
	latest LatestReader
	now    Clock
	log    *slog.Logger
}

// DevicesOption configures a DevicesHandler.
type DevicesOption func(*DevicesHandler)

// WithLatestReader serves /latest from a cache before the store.
func WithLatestReader(r LatestReader) DevicesOption {
	return func(h *DevicesHandler) {
		h.latest = r
	}
}

// WithDevicesClock sets the clock used for relative windows.
func WithDevicesClock(c Clock) DevicesOption {
	return func(h *DevicesHandler) {
		h.now = c
	}
}

// WithDevicesLogger sets a custom logger.
func WithDevicesLogger(l *slog.Logger) DevicesOption {
	return func(h *DevicesHandler) {
		h.log = l
	}
}

// NewDevicesHandler creates a new DevicesHandler.
func NewDevicesHandler(s store.Store, opts ...DevicesOption) *DevicesHandler {
	h := &DevicesHandler{store: s, log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ListDevicesInput is the request for listing devices.
type ListDevicesInput struct {
	ScopeHeaders
	Limit  int `query:"limit"  minimum:"1" maximum:"200" default:"50" doc:"Page size"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Rows to skip"`
}

// ListDevicesOutput is a page of devices.
type ListDevicesOutput struct {
	Body struct {
		Devices []domain.DeviceSummary `json:"devices"`
		Total   int                    `json:"total"  doc:"Devices visible to the caller"`
		Limit   int                    `json:"limit"`
		Offset  int                    `json:"offset"`
	}
}

// DeviceInput identifies one device.
type DeviceInput struct {
	ScopeHeaders
	DeviceID string `path:"device_id" doc:"Telematics device id"`
}

// LatestOutput is the newest battery and GPS reading for a device.
type LatestOutput struct {
	Body struct {
		DeviceID string                 `json:"device_id"`
		Battery  *domain.BatteryReading `json:"battery,omitempty"`
		GPS      *domain.GPSReading     `json:"gps,omitempty"`
	}
}

// RangeInput selects a trailing window of readings.
type RangeInput struct {
	ScopeHeaders
	DeviceID string `path:"device_id" doc:"Telematics device id"`
	Hours    int    `query:"hours" minimum:"1" maximum:"720" default:"24" doc:"Trailing window in hours"`
	Limit    int    `query:"limit" minimum:"1" maximum:"5000" default:"1000" doc:"Maximum rows"`
}

// ReadingsOutput is a window of battery readings, oldest first.
type ReadingsOutput struct {
	Body struct {
		DeviceID string                  `json:"device_id"`
		Readings []domain.BatteryReading `json:"readings"`
		Count    int                     `json:"count"`
	}
}

// GPSOutput is a window of GPS readings, oldest first.
type GPSOutput struct {
	Body struct {
		DeviceID string              `json:"device_id"`
		Readings []domain.GPSReading `json:"readings"`
		Count    int                 `json:"count"`
	}
}

// TripsInput pages a device's trips.
type TripsInput struct {
	ScopeHeaders
	DeviceID string `path:"device_id" doc:"Telematics device id"`
	Limit    int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum trips"`
}

// TripsOutput is a device's most recent trips.
type TripsOutput struct {
	Body struct {
		DeviceID string               `json:"device_id"`
		Trips    []domain.TripSummary `json:"trips"`
	}
}

// AggregatesInput selects rollups for a device.
type AggregatesInput struct {
	ScopeHeaders
	DeviceID string `path:"device_id" doc:"Telematics device id"`
	Bucket   string `query:"bucket" enum:"hour,day" default:"hour" doc:"Bucket width"`
	Hours    int    `query:"hours" minimum:"1" maximum:"720" default:"24" doc:"Trailing window for hourly buckets"`
	Days     int    `query:"days" minimum:"1" maximum:"365" default:"30" doc:"Trailing window for daily buckets"`
}

// AggregatesOutput is a list of rollups, oldest first.
type AggregatesOutput struct {
	Body struct {
		DeviceID   string             `json:"device_id"`
		Bucket     string             `json:"bucket"`
		Aggregates []domain.Aggregate `json:"aggregates"`
	}
}

// DeviceMapping is one row of the device mapping upsert.
type DeviceMapping struct {
	DeviceID      string  `json:"device_id"                minLength:"1"`
	BatterySerial *string `json:"battery_serial,omitempty"`
	VehicleNumber *string `json:"vehicle_number,omitempty"`
	DealerID      *string `json:"dealer_id,omitempty"`
	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerPhone *string `json:"customer_phone,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty" doc:"Defaults to true"`
}

// UpsertMappingInput replaces mapping rows by device id.
type UpsertMappingInput struct {
	ScopeHeaders
	Body []DeviceMapping `minItems:"1"`
}

// UpsertMappingOutput reports how many rows were written.
type UpsertMappingOutput struct {
	Body struct {
		Upserted int `json:"upserted"`
	}
}

// ListDevices returns mapped devices with their latest reading.
func (h *DevicesHandler) ListDevices(ctx context.Context, input *ListDevicesInput) (*ListDevicesOutput, error) {
	scope, err := input.Scope()
	if err != nil {
		return nil, err
	}

	devices, total, err := h.store.ListDevices(ctx, &store.DeviceQuery{
		Scope:  scope,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		h.log.Warn("listing devices failed", "error", err)
		devices, total = nil, 0
	}
	if devices == nil {
		devices = []domain.DeviceSummary{}
	}

	resp := &ListDevicesOutput{}
	resp.Body.Devices = devices
	resp.Body.Total = total
	resp.Body.Limit = input.Limit
	resp.Body.Offset = input.Offset
	return resp, nil
}

// Latest returns the newest battery and GPS reading, cache first.
func (h *DevicesHandler) Latest(ctx context.Context, input *DeviceInput) (*LatestOutput, error) {
	if err := h.authorize(ctx, &input.ScopeHeaders, input.DeviceID); err != nil {
		return nil, err
	}

	resp := &LatestOutput{}
	resp.Body.DeviceID = input.DeviceID
	resp.Body.Battery = latestOf(ctx, h, "battery", input.DeviceID, h.cachedBattery, h.store.LatestBattery)
	resp.Body.GPS = latestOf(ctx, h, "gps", input.DeviceID, h.cachedGPS, h.store.LatestGPS)
	return resp, nil
}

func (h *DevicesHandler) cachedBattery(ctx context.Context, id string) (*domain.BatteryReading, error) {
	if h.latest == nil {
		return nil, domain.ErrNotFound
	}
	return h.latest.Battery(ctx, id)
}

func (h *DevicesHandler) cachedGPS(ctx context.Context, id string) (*domain.GPSReading, error) {
	if h.latest == nil {
		return nil, domain.ErrNotFound
	}
	return h.latest.GPS(ctx, id)
}

func latestOf[T any](
	ctx context.Context,
	h *DevicesHandler,
	kind, deviceID string,
	cached, stored func(context.Context, string) (*T, error),
) *T {
	if h.latest != nil {
		v, err := cached(ctx, deviceID)
		if err == nil {
			metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
			return v
		}
		metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Warn("latest cache read failed", "kind", kind, "device_id", deviceID, "error", err)
		}
	}

	v, err := stored(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Warn("latest reading lookup failed", "kind", kind, "device_id", deviceID, "error", err)
		}
		return nil
	}
	return v
}

// Readings returns battery readings over the trailing window.
func (h *DevicesHandler) Readings(ctx context.Context, input *RangeInput) (*ReadingsOutput, error) {
	if err := h.authorize(ctx, &input.ScopeHeaders, input.DeviceID); err != nil {
		return nil, err
	}

	to := h.now.now()
	readings, err := h.store.RangeBattery(ctx, &store.RangeQuery{
		DeviceID: input.DeviceID,
		From:     to.Add(-time.Duration(input.Hours) * time.Hour),
		To:       to,
		Limit:    input.Limit,
	})
	if err != nil {
		h.log.Warn("reading range failed", "device_id", input.DeviceID, "error", err)
	}
	if readings == nil {
		readings = []domain.BatteryReading{}
	}

	resp := &ReadingsOutput{}
	resp.Body.DeviceID = input.DeviceID
	resp.Body.Readings = readings
	resp.Body.Count = len(readings)
	return resp, nil
}

// GPS returns GPS readings over the trailing window.
func (h *DevicesHandler) GPS(ctx context.Context, input *RangeInput) (*GPSOutput, error) {
	if err := h.authorize(ctx, &input.ScopeHeaders, input.DeviceID); err != nil {
		return nil, err
	}

	to := h.now.now()
	readings, err := h.store.RangeGPS(ctx, &store.RangeQuery{
		DeviceID: input.DeviceID,
		From:     to.Add(-time.Duration(input.Hours) * time.Hour),
		To:       to,
		Limit:    input.Limit,
	})
	if err != nil {
		h.log.Warn("gps range failed", "device_id", input.DeviceID, "error", err)
	}
	if readings == nil {
		readings = []domain.GPSReading{}
	}

	resp := &GPSOutput{}
	resp.Body.DeviceID = input.DeviceID
	resp.Body.Readings = readings
	resp.Body.Count = len(readings)
	return resp, nil
}

// Trips returns the device's most recent trips.
func (h *DevicesHandler) Trips(ctx context.Context, input *TripsInput) (*TripsOutput, error) {
	if err := h.authorize(ctx, &input.ScopeHeaders, input.DeviceID); err != nil {
		return nil, err
	}

	trips, err := h.store.ListTrips(ctx, input.DeviceID, input.Limit)
	if err != nil {
		h.log.Warn("listing trips failed", "device_id", input.DeviceID, "error", err)
	}
	if trips == nil {
		trips = []domain.TripSummary{}
	}

	resp := &TripsOutput{}
	resp.Body.DeviceID = input.DeviceID
	resp.Body.Trips = trips
	return resp, nil
}

// Aggregates returns hourly or daily rollups for the device.
func (h *DevicesHandler) Aggregates(ctx context.Context, input *AggregatesInput) (*AggregatesOutput, error) {
	if err := h.authorize(ctx, &input.ScopeHeaders, input.DeviceID); err != nil {
		return nil, err
	}

	bucket := domain.Bucket(input.Bucket)
	window := time.Duration(input.Hours) * time.Hour
	if bucket == domain.BucketDay {
		window = time.Duration(input.Days) * 24 * time.Hour
	}

	to := h.now.now()
	aggs, err := h.store.Aggregates(ctx, &store.AggregateQuery{
		DeviceID: input.DeviceID,
		Bucket:   bucket,
		From:     to.Add(-window),
		To:       to,
	})
	if err != nil {
		h.log.Warn("aggregate query failed", "device_id", input.DeviceID, "bucket", bucket, "error", err)
	}
	if aggs == nil {
		aggs = []domain.Aggregate{}
	}

	resp := &AggregatesOutput{}
	resp.Body.DeviceID = input.DeviceID
	resp.Body.Bucket = string(bucket)
	resp.Body.Aggregates = aggs
	return resp, nil
}

// UpsertMapping creates or replaces device mapping rows. Owner only.
func (h *DevicesHandler) UpsertMapping(ctx context.Context, input *UpsertMappingInput) (*UpsertMappingOutput, error) {
	if err := input.ownerOnly(); err != nil {
		return nil, err
	}

	maps := make([]domain.DeviceBatteryMap, 0, len(input.Body))
	for _, m := range input.Body {
		active := m.IsActive == nil || *m.IsActive
		maps = append(maps, domain.DeviceBatteryMap{
			DeviceID:      m.DeviceID,
			BatterySerial: m.BatterySerial,
			VehicleNumber: m.VehicleNumber,
			DealerID:      m.DealerID,
			CustomerName:  m.CustomerName,
			CustomerPhone: m.CustomerPhone,
			IsActive:      active,
		})
	}

	if err := h.store.UpsertDeviceMappings(ctx, maps); err != nil {
		return nil, huma.Error500InternalServerError("upserting device mappings failed: " + err.Error())
	}

	resp := &UpsertMappingOutput{}
	resp.Body.Upserted = len(maps)
	return resp, nil
}

// authorize parses the scope and, for dealers, checks device ownership.
// Devices outside the scope are reported as missing.
func (h *DevicesHandler) authorize(ctx context.Context, hdr *ScopeHeaders, deviceID string) error {
	scope, err := hdr.Scope()
	if err != nil {
		return err
	}
	if scope.IsOwner() {
		return nil
	}

	m, err := h.store.GetDeviceMapping(ctx, deviceID)
	if err != nil {
		if nf := notFound(err, "device not found"); nf != nil {
			return nf
		}
		return huma.Error500InternalServerError("checking device ownership failed: " + err.Error())
	}
	if !scope.Allows(m.DealerID) {
		return huma.Error404NotFound("device not found")
	}
	return nil
}

// RegisterDeviceRoutes registers device endpoints with the Huma API.
func RegisterDeviceRoutes(api huma.API, h *DevicesHandler) {
	scoped := []int{http.StatusUnauthorized, http.StatusNotFound}

	huma.Register(api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices",
		Summary:     "List devices",
		Description: "Lists mapped devices visible to the caller with their latest reading.",
		Tags:        []string{"devices"},
		Errors:      []int{http.StatusUnauthorized},
	}, h.ListDevices)

	huma.Register(api, huma.Operation{
		OperationID: "get-device-latest",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices/{device_id}/latest",
		Summary:     "Latest readings",
		Description: "Returns the newest battery and GPS reading for a device.",
		Tags:        []string{"devices"},
		Errors:      scoped,
	}, h.Latest)

	huma.Register(api, huma.Operation{
		OperationID: "get-device-readings",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices/{device_id}/readings",
		Summary:     "Battery readings",
		Tags:        []string{"devices"},
		Errors:      scoped,
	}, h.Readings)

	huma.Register(api, huma.Operation{
		OperationID: "get-device-gps",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices/{device_id}/gps",
		Summary:     "GPS readings",
		Tags:        []string{"devices"},
		Errors:      scoped,
	}, h.GPS)

	huma.Register(api, huma.Operation{
		OperationID: "get-device-trips",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices/{device_id}/trips",
		Summary:     "Trip summaries",
		Tags:        []string{"devices"},
		Errors:      scoped,
	}, h.Trips)

	huma.Register(api, huma.Operation{
		OperationID: "get-device-aggregates",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices/{device_id}/aggregates",
		Summary:     "Battery rollups",
		Description: "Returns hourly or daily battery rollups for a device.",
		Tags:        []string{"devices"},
		Errors:      scoped,
	}, h.Aggregates)

	huma.Register(api, huma.Operation{
		OperationID: "upsert-device-mapping",
		Method:      http.MethodPut,
		Path:        "/api/v1/devices/mapping",
		Summary:     "Upsert device mappings",
		Description: "Creates or replaces device to battery and dealer mappings. Owner only.",
		Tags:        []string{"devices"},
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError},
	}, h.UpsertMapping)
}
