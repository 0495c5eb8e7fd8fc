package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan starts the root span covering one probe run.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, runID, target string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "probe run", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("probe.run_id", runID),
		attribute.String("probe.target", target),
	)
	return ctx, span
}

// StartAttemptSpan starts a client span for a single GET attempt.
func StartAttemptSpan(ctx context.Context, tracer trace.Tracer, target string, attempt int) (context.Context, trace.Span) {
	spanName := "GET"
	if target != "" {
		spanName = "GET " + target
	}
	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", http.MethodGet),
		attribute.Int("probe.attempt", attempt),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
