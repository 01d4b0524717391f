package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/engine"
)

// Runner runs a named scheduler job immediately.
type Runner interface {
	RunNow(ctx context.Context, name string) (int, error)
}

// TriggerHandler handles manual job trigger requests.
type TriggerHandler struct {
	runner Runner
}

// NewTriggerHandler creates a new TriggerHandler.
func NewTriggerHandler(r Runner) *TriggerHandler {
	return &TriggerHandler{runner: r}
}

// TriggerOutput is the response body for trigger endpoints.
type TriggerOutput struct {
	Body struct {
		Job          string `json:"job"           example:"fleet_poll"`
		Status       string `json:"status"        example:"completed"`
		RowsAffected int    `json:"rows_affected" doc:"Rows written or alerts raised"`
	}
}

func (h *TriggerHandler) trigger(job string) func(context.Context, *struct{}) (*TriggerOutput, error) {
	return func(ctx context.Context, _ *struct{}) (*TriggerOutput, error) {
		rows, err := h.runner.RunNow(ctx, job)
		switch {
		case errors.Is(err, engine.ErrJobLocked):
			return nil, huma.Error409Conflict(job + " is already running")
		case errors.Is(err, engine.ErrUnknownJob):
			return nil, huma.Error404NotFound(job + " is not configured")
		case err != nil:
			return nil, huma.Error500InternalServerError(job + " failed: " + err.Error())
		}

		resp := &TriggerOutput{}
		resp.Body.Job = job
		resp.Body.Status = "completed"
		resp.Body.RowsAffected = rows
		return resp, nil
	}
}

// RegisterTriggerRoutes registers manual job trigger endpoints with the Huma API.
func RegisterTriggerRoutes(api huma.API, h *TriggerHandler) {
	errs := []int{http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError}

	huma.Register(api, huma.Operation{
		OperationID: "trigger-poll",
		Method:      http.MethodPost,
		Path:        "/api/v1/poll",
		Summary:     "Trigger a fleet poll",
		Description: "Pulls recent battery and GPS history for every provider device " +
			"and ingests it through the validation pipeline.",
		Tags:   []string{"operations"},
		Errors: errs,
	}, h.trigger(engine.JobFleetPoll))

	huma.Register(api, huma.Operation{
		OperationID: "refresh-aggregates",
		Method:      http.MethodPost,
		Path:        "/api/v1/aggregates/refresh",
		Summary:     "Refresh aggregates",
		Description: "Refreshes the hourly and daily rollups over the recent window.",
		Tags:        []string{"operations"},
		Errors:      errs,
	}, h.trigger(engine.JobAggregateRefresh))

	huma.Register(api, huma.Operation{
		OperationID: "run-health-checks",
		Method:      http.MethodPost,
		Path:        "/api/v1/alerts/health-check",
		Summary:     "Run fleet health checks",
		Description: "Raises no-communication and rapid SOH drop alerts.",
		Tags:        []string{"operations"},
		Errors:      errs,
	}, h.trigger(engine.JobHealthCheck))
}
