package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mailguard"

// StartAnalysisSpan starts a span for one end-to-end analysis.
func StartAnalysisSpan(ctx context.Context, requestID, policyVersion string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "analysis",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("policy.version", policyVersion),
		),
	)
}

// StartCollectSpan starts a span for one signal collection round.
func StartCollectSpan(ctx context.Context, sources int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "collect",
		trace.WithAttributes(attribute.Int("collect.sources", sources)),
	)
}

// StartSourceSpan starts a span for a single source call.
func StartSourceSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "source",
		trace.WithAttributes(attribute.String("source.name", source)),
	)
}

// StartNarrativeSpan starts a span for narrative enrichment.
func StartNarrativeSpan(ctx context.Context, verdictID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "narrative",
		trace.WithAttributes(attribute.String("verdict.id", verdictID)),
	)
}

// StartExecutionSpan starts a span for executing one action.
func StartExecutionSpan(ctx context.Context, actionID, actionType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execute",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.String("action.type", actionType),
		),
	)
}
