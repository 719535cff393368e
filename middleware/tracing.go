package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/runqueue/batch"
)

// tracerName is the instrumentation scope name for runqueue tracing.
const tracerName = "github.com/xraph/runqueue"

// Tracing returns middleware that wraps item processing in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through.
//
// Span attributes: runqueue.batch.id, runqueue.batch.friendly_id,
// runqueue.env.id, runqueue.item.index, runqueue.item.task. Unexpected
// errors set the span status to codes.Error; expected item failures are
// recorded as an event with their error code.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("runqueue.batch.id", item.BatchID),
			attribute.String("runqueue.env.id", item.EnvID),
			attribute.Int("runqueue.item.index", item.ItemIndex),
			attribute.String("runqueue.item.task", taskName(item)),
		}
		if item.Meta != nil {
			attrs = append(attrs, attribute.String("runqueue.batch.friendly_id", item.Meta.FriendlyID))
		}
		ctx, span := tracer.Start(ctx, "runqueue.item.process",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		switch outcome(err) {
		case "ok":
			span.SetStatus(codes.Ok, "")
		case "failed":
			span.AddEvent("item failed", trace.WithAttributes(
				attribute.String("runqueue.error_code", batch.ErrorCode(err)),
				attribute.String("runqueue.error", err.Error()),
			))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		return err
	}
}
