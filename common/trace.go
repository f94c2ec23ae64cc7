package common

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/liuxd6825/testrender/common"

type tracerCtxKey struct{}

// WithTracer returns a new context with the given tracer.
func WithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerCtxKey{}, tracer)
}

// getTracer returns the tracer of ctx, or the global one.
func getTracer(ctx context.Context) trace.Tracer {
	if tr, ok := ctx.Value(tracerCtxKey{}).(trace.Tracer); ok {
		return tr
	}
	return otel.Tracer(tracerName)
}

// TraceAPICall starts a span for a view operation, tagged with the target ID.
func TraceAPICall(
	ctx context.Context, targetID string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(attribute.String("target.id", targetID)))

	return getTracer(ctx).Start(ctx, spanName, opts...) //nolint:spancheck
}

// spanRecordErrorf records an error in span and returns it.
func spanRecordErrorf(span trace.Span, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)

	return err
}
