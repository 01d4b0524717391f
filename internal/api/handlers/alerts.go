package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// AlertsHandler serves alert listing, acknowledgement and threshold config.
type AlertsHandler struct {
	store store.Store
	now   Clock
	log   *slog.Logger
}

// NewAlertsHandler creates a new AlertsHandler. A nil clock uses time.Now.
func NewAlertsHandler(s store.Store, now Clock, log *slog.Logger) *AlertsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AlertsHandler{store: s, now: now, log: log}
}

// ListAlertsInput filters the alert list.
type ListAlertsInput struct {
	ScopeHeaders
	Acknowledged string `query:"acknowledged" enum:"true,false" doc:"Filter by acknowledgement state"`
	DeviceID     string `query:"device_id" doc:"Filter by device"`
	Limit        int    `query:"limit" minimum:"1" maximum:"500" default:"20" doc:"Maximum alerts"`
}

// ListAlertsOutput is a list of alerts, newest first.
type ListAlertsOutput struct {
	Body struct {
		Alerts []domain.BatteryAlert `json:"alerts"`
		Count  int                   `json:"count"`
	}
}

// AcknowledgeInput acknowledges one alert.
type AcknowledgeInput struct {
	ScopeHeaders
	ID   string `path:"id" doc:"Alert id"`
	Body *struct {
		Notes *string `json:"notes,omitempty" maxLength:"2000" doc:"Resolution notes"`
	} `required:"false"`
}

// AcknowledgeOutput is the acknowledged alert.
type AcknowledgeOutput struct {
	Body *domain.BatteryAlert
}

// GetAlertConfigInput reads the thresholds.
type GetAlertConfigInput struct {
	ScopeHeaders
}

// AlertConfigOutput is the full threshold set.
type AlertConfigOutput struct {
	Body domain.AlertConfig
}

// PutAlertConfigInput replaces the thresholds.
type PutAlertConfigInput struct {
	ScopeHeaders
	Body domain.AlertConfig
}

// ListAlerts returns alerts visible to the caller.
func (h *AlertsHandler) ListAlerts(ctx context.Context, input *ListAlertsInput) (*ListAlertsOutput, error) {
	scope, err := input.Scope()
	if err != nil {
		return nil, err
	}

	q := &store.AlertQuery{Scope: scope, Limit: input.Limit}
	if input.Acknowledged != "" {
		ack := input.Acknowledged == "true"
		q.Acknowledged = &ack
	}
	if input.DeviceID != "" {
		q.DeviceID = &input.DeviceID
	}

	alerts, err := h.store.ListAlerts(ctx, q)
	if err != nil {
		h.log.Warn("listing alerts failed", "error", err)
	}
	if alerts == nil {
		alerts = []domain.BatteryAlert{}
	}

	resp := &ListAlertsOutput{}
	resp.Body.Alerts = alerts
	resp.Body.Count = len(alerts)
	return resp, nil
}

// Acknowledge marks an alert resolved. Alerts outside the caller's scope
// are reported as missing.
func (h *AlertsHandler) Acknowledge(ctx context.Context, input *AcknowledgeInput) (*AcknowledgeOutput, error) {
	scope, err := input.Scope()
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(input.ID); err != nil {
		return nil, huma.Error404NotFound("alert not found")
	}

	by := input.User
	if by == "" {
		by = string(scope.Role)
		if !scope.IsOwner() {
			by += ":" + scope.DealerID
		}
	}

	ack := &store.Acknowledgement{
		AlertID: input.ID,
		Scope:   scope,
		By:      by,
		At:      h.now.now(),
	}
	if input.Body != nil {
		ack.Notes = input.Body.Notes
	}

	alert, err := h.store.AcknowledgeAlert(ctx, ack)
	if err != nil {
		if nf := notFound(err, "alert not found"); nf != nil {
			return nil, nf
		}
		return nil, huma.Error500InternalServerError("acknowledging alert failed: " + err.Error())
	}
	return &AcknowledgeOutput{Body: alert}, nil
}

// GetConfig returns the active alert thresholds.
func (h *AlertsHandler) GetConfig(ctx context.Context, input *GetAlertConfigInput) (*AlertConfigOutput, error) {
	if _, err := input.Scope(); err != nil {
		return nil, err
	}

	cfg, err := h.store.GetAlertConfig(ctx)
	if err != nil {
		h.log.Warn("reading alert config failed, serving defaults", "error", err)
		cfg = domain.DefaultAlertConfig()
	}
	return &AlertConfigOutput{Body: cfg}, nil
}

// PutConfig replaces the alert thresholds. Owner only.
func (h *AlertsHandler) PutConfig(ctx context.Context, input *PutAlertConfigInput) (*AlertConfigOutput, error) {
	if err := input.ownerOnly(); err != nil {
		return nil, err
	}
	if err := input.Body.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	if err := h.store.SetAlertConfig(ctx, input.Body); err != nil {
		return nil, huma.Error500InternalServerError("saving alert config failed: " + err.Error())
	}
	h.log.Info("alert config replaced", "thresholds", len(input.Body))
	return &AlertConfigOutput{Body: input.Body}, nil
}

// RegisterAlertRoutes registers alert endpoints with the Huma API.
func RegisterAlertRoutes(api huma.API, h *AlertsHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/api/v1/alerts",
		Summary:     "List alerts",
		Description: "Returns alerts visible to the caller, newest first, " +
			"enriched with the vehicle number and customer name.",
		Tags:   []string{"alerts"},
		Errors: []int{http.StatusUnauthorized},
	}, h.ListAlerts)

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-alert",
		Method:      http.MethodPost,
		Path:        "/api/v1/alerts/{id}/acknowledge",
		Summary:     "Acknowledge an alert",
		Description: "Marks an alert acknowledged and records who resolved it. " +
			"Acknowledging does not reset the alert cooldown.",
		Tags:   []string{"alerts"},
		Errors: []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, h.Acknowledge)

	huma.Register(api, huma.Operation{
		OperationID: "get-alert-config",
		Method:      http.MethodGet,
		Path:        "/api/v1/alerts/config",
		Summary:     "Get alert thresholds",
		Tags:        []string{"alerts"},
		Errors:      []int{http.StatusUnauthorized},
	}, h.GetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "put-alert-config",
		Method:      http.MethodPut,
		Path:        "/api/v1/alerts/config",
		Summary:     "Replace alert thresholds",
		Description: "Replaces the whole threshold set. Owner only.",
		Tags:        []string{"alerts"},
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, h.PutConfig)
}
