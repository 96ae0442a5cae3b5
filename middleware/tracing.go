package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor/command"
)

// tracerName is the instrumentation scope name for conductor tracing.
const tracerName = "github.com/xraph/conductor"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: conductor.session.id, conductor.step,
// conductor.attempt, conductor.kind and, once the attempt returns,
// conductor.class. Errors and failed classes set codes.Error.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error) {
		ctx, span := tracer.Start(ctx, "conductor.step.attempt",
			trace.WithAttributes(
				attribute.String("conductor.session.id", req.SessionID.String()),
				attribute.String("conductor.step", req.Step),
				attribute.Int("conductor.attempt", req.Attempt),
				attribute.String("conductor.kind", string(req.Kind)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx, req)
		span.SetAttributes(attribute.String("conductor.class", outcome(res, err)))
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !res.Succeeded():
			span.SetStatus(codes.Error, outcome(res, nil))
		default:
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
