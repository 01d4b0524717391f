package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// chargingWindow bounds how recent a charging reading must be to count a
// device as charging now.
const chargingWindow = time.Hour

// FleetHandler serves fleet-wide dashboard KPIs.
type FleetHandler struct {
	store store.Store
	now   Clock
	log   *slog.Logger
}

// NewFleetHandler creates a new FleetHandler. A nil clock uses time.Now.
func NewFleetHandler(s store.Store, now Clock, log *slog.Logger) *FleetHandler {
	if log == nil {
		log = slog.Default()
	}
	return &FleetHandler{store: s, now: now, log: log}
}

// OverviewInput requests the fleet overview.
type OverviewInput struct {
	ScopeHeaders
}

// OverviewOutput carries the KPI cards.
type OverviewOutput struct {
	Body *domain.FleetOverview
}

// SOCTrendsInput selects the trend window.
type SOCTrendsInput struct {
	ScopeHeaders
	Days int `query:"days" minimum:"1" maximum:"365" default:"30" doc:"Trailing window in days"`
}

// SOCTrendsOutput is one point per day, oldest first.
type SOCTrendsOutput struct {
	Body struct {
		Days   int                    `json:"days"`
		Points []domain.SOCTrendPoint `json:"points"`
	}
}

// Overview returns active batteries, average SOH, charging count and open
// alerts for the caller's scope.
func (h *FleetHandler) Overview(ctx context.Context, input *OverviewInput) (*OverviewOutput, error) {
	scope, err := input.Scope()
	if err != nil {
		return nil, err
	}

	o, err := h.store.FleetOverview(ctx, scope, h.now.now().Add(-chargingWindow))
	if err != nil {
		h.log.Warn("fleet overview failed", "error", err)
		o = &domain.FleetOverview{}
	}
	return &OverviewOutput{Body: o}, nil
}

// SOCTrends returns the daily fleet-average SOC.
func (h *FleetHandler) SOCTrends(ctx context.Context, input *SOCTrendsInput) (*SOCTrendsOutput, error) {
	scope, err := input.Scope()
	if err != nil {
		return nil, err
	}

	since := h.now.now().AddDate(0, 0, -input.Days)
	points, err := h.store.SOCTrend(ctx, scope, since)
	if err != nil {
		h.log.Warn("soc trend failed", "error", err)
	}
	if points == nil {
		points = []domain.SOCTrendPoint{}
	}

	resp := &SOCTrendsOutput{}
	resp.Body.Days = input.Days
	resp.Body.Points = points
	return resp, nil
}

// RegisterFleetRoutes registers fleet dashboard endpoints with the Huma API.
func RegisterFleetRoutes(api huma.API, h *FleetHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-fleet-overview",
		Method:      http.MethodGet,
		Path:        "/api/v1/fleet/overview",
		Summary:     "Fleet overview",
		Tags:        []string{"fleet"},
		Errors:      []int{http.StatusUnauthorized},
	}, h.Overview)

	huma.Register(api, huma.Operation{
		OperationID: "get-soc-trends",
		Method:      http.MethodGet,
		Path:        "/api/v1/analytics/soc-trends",
		Summary:     "Fleet SOC trend",
		Description: "Daily average state of charge across the visible fleet.",
		Tags:        []string{"fleet"},
		Errors:      []int{http.StatusUnauthorized},
	}, h.SOCTrends)
}
