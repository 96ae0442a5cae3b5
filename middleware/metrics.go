package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor/command"
)

// meterName is the instrumentation scope name for conductor metrics.
const meterName = "github.com/xraph/conductor"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - conductor.attempt.duration (Float64Histogram): attempt time in seconds,
//     with attributes: step, kind, class
//   - conductor.attempt.executions (Int64Counter): total attempts,
//     with attributes: step, kind, class
//
// class is the failure class, "success", or "error" when the runner could
// not be started.
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error, the API returns noop instruments.
	duration, dErr := meter.Float64Histogram(
		"conductor.attempt.duration",
		metric.WithDescription("Duration of collaborator attempts in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"conductor.attempt.executions",
		metric.WithDescription("Total number of collaborator attempts"),
		metric.WithUnit("{attempt}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error) {
		start := time.Now()
		res, err := next(ctx, req)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("step", req.Step),
			attribute.String("kind", string(req.Kind)),
			attribute.String("class", outcome(res, err)),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return res, err
	}
}
