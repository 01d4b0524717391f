package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/engine"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const maxIngestBodyBytes = 32 << 20

// IngestService processes raw telemetry batches.
type IngestService interface {
	IngestCAN(ctx context.Context, body []byte) (*engine.IngestResult, error)
	IngestGPS(ctx context.Context, body []byte) (*engine.IngestResult, error)
	IngestTrips(ctx context.Context, body []byte) (*engine.IngestResult, error)
	IngestEnergy(ctx context.Context, body []byte) (*engine.IngestResult, error)
}

// IngestHandler accepts pushed telemetry batches.
type IngestHandler struct {
	svc IngestService
	log *slog.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(svc IngestService, log *slog.Logger) *IngestHandler {
	if log == nil {
		log = slog.Default()
	}
	return &IngestHandler{svc: svc, log: log}
}

// IngestInput is a raw JSON array of readings or summaries.
type IngestInput struct {
	RawBody []byte `contentType:"application/json"`
}

// IngestOutput carries the batch summary. Status is 500 when the batch was
// validated but could not be stored.
type IngestOutput struct {
	Status int
	Body   *engine.IngestResult
}

type ingestFunc func(ctx context.Context, body []byte) (*engine.IngestResult, error)

func (h *IngestHandler) handle(kind string, fn ingestFunc) func(context.Context, *IngestInput) (*IngestOutput, error) {
	return func(ctx context.Context, input *IngestInput) (*IngestOutput, error) {
		res, err := fn(ctx, input.RawBody)
		switch {
		case errors.Is(err, domain.ErrNotArray):
			return nil, huma.Error400BadRequest("expected an array of " + kind + " readings")
		case err != nil && res != nil:
			h.log.Error("ingest batch not stored", "kind", kind, "error", err)
			res.Message = "Batch could not be stored"
			return &IngestOutput{Status: http.StatusInternalServerError, Body: res}, nil
		case err != nil:
			return nil, huma.Error500InternalServerError("ingest failed: " + err.Error())
		}
		return &IngestOutput{Status: http.StatusOK, Body: res}, nil
	}
}

// RegisterIngestRoutes registers the push ingestion endpoints.
func RegisterIngestRoutes(api huma.API, h *IngestHandler) {
	routes := []struct {
		id, path, kind, summary string
		fn                      ingestFunc
	}{
		{"ingest-can-data", "/api/v1/ingest/can-data", "CAN", "Ingest battery CAN readings", h.svc.IngestCAN},
		{"ingest-gps-data", "/api/v1/ingest/gps-data", "GPS", "Ingest GPS readings", h.svc.IngestGPS},
		{"ingest-trips", "/api/v1/ingest/trips", "trip", "Ingest trip summaries", h.svc.IngestTrips},
		{"ingest-energy", "/api/v1/ingest/energy", "energy", "Ingest energy summaries", h.svc.IngestEnergy},
	}

	for _, r := range routes {
		huma.Register(api, huma.Operation{
			OperationID: r.id,
			Method:      http.MethodPost,
			Path:        r.path,
			Summary:     r.summary,
			Description: "Validates each item independently, stores the valid ones idempotently " +
				"and reports counts with up to five rejected samples.",
			Tags:         []string{"ingest"},
			MaxBodyBytes: maxIngestBodyBytes,
			Errors:       []int{http.StatusBadRequest, http.StatusInternalServerError},
		}, h.handle(r.kind, r.fn))
	}
}
