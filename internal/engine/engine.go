// Package engine runs the ingestion pipeline: batch validation, idempotent
// storage, alert evaluation with cooldown deduplication, fleet polling,
// aggregate refresh and the scheduler that drives them.
package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/donaldgifford/fleet-telemetry/internal/engine")

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String("fleet.kind", kind)
}
