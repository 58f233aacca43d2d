package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "foreman"

// StartWorkflowSpan starts a span covering one workflow phase.
func StartWorkflowSpan(ctx context.Context, workflowID, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.phase",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.phase", phase),
		),
	)
}

// StartFanoutSpan starts a span for a review fan-out over a changeset.
func StartFanoutSpan(ctx context.Context, workflowID, changesetID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review.fanout",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("changeset.id", changesetID),
		),
	)
}
