package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/runqueue/batch"
)

// meterName is the instrumentation scope name for runqueue metrics.
const meterName = "github.com/xraph/runqueue"

// Metrics returns middleware that records per-item processing metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - runqueue.item.duration (Float64Histogram): processing time in seconds
//   - runqueue.item.processed (Int64Counter): processed items
//
// Both carry the attributes task and status ("ok", "failed" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"runqueue.item.duration",
		metric.WithDescription("Duration of batch item processing in seconds"),
		metric.WithUnit("s"),
	)
	processed, _ := meter.Int64Counter(
		"runqueue.item.processed",
		metric.WithDescription("Total number of processed batch items"),
		metric.WithUnit("{item}"),
	)

	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("task", taskName(item)),
			attribute.String("status", outcome(err)),
		)
		duration.Record(ctx, elapsed, attrs)
		processed.Add(ctx, 1, attrs)

		return err
	}
}
