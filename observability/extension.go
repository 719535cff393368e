package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.BatchEnqueued  = (*MetricsExtension)(nil)
	_ ext.ItemSucceeded  = (*MetricsExtension)(nil)
	_ ext.ItemFailed     = (*MetricsExtension)(nil)
	_ ext.BatchCompleted = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/xraph/runqueue/observability"

// MetricsExtension records system-wide batch lifecycle metrics with
// OpenTelemetry. Register it as a batch queue extension to track enqueue
// rates, item outcomes and batch completion latency.
type MetricsExtension struct {
	BatchesEnqueued  metric.Int64Counter
	ItemsEnqueued    metric.Int64Counter
	ItemsSucceeded   metric.Int64Counter
	ItemsFailed      metric.Int64Counter
	BatchesCompleted metric.Int64Counter
	BatchDuration    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the API returns noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.BatchesEnqueued, _ = meter.Int64Counter("runqueue.batch.enqueued",
		metric.WithDescription("Batches accepted into the master queue"),
		metric.WithUnit("{batch}"))
	m.ItemsEnqueued, _ = meter.Int64Counter("runqueue.item.enqueued",
		metric.WithDescription("Items accepted as part of a batch"),
		metric.WithUnit("{item}"))
	m.ItemsSucceeded, _ = meter.Int64Counter("runqueue.item.succeeded",
		metric.WithDescription("Items recorded with a run"),
		metric.WithUnit("{item}"))
	m.ItemsFailed, _ = meter.Int64Counter("runqueue.item.failed",
		metric.WithDescription("Items recorded as failures"),
		metric.WithUnit("{item}"))
	m.BatchesCompleted, _ = meter.Int64Counter("runqueue.batch.completed",
		metric.WithDescription("Batches finalized"),
		metric.WithUnit("{batch}"))
	m.BatchDuration, _ = meter.Float64Histogram("runqueue.batch.duration",
		metric.WithDescription("Time from batch enqueue to finalization in seconds"),
		metric.WithUnit("s"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnBatchEnqueued implements ext.BatchEnqueued.
func (m *MetricsExtension) OnBatchEnqueued(ctx context.Context, meta *batch.Meta) error {
	attrs := metric.WithAttributes(attribute.String("environment_type", meta.EnvironmentType))
	m.BatchesEnqueued.Add(ctx, 1, attrs)
	m.ItemsEnqueued.Add(ctx, int64(meta.RunCount), attrs)
	return nil
}

// OnItemSucceeded implements ext.ItemSucceeded.
func (m *MetricsExtension) OnItemSucceeded(ctx context.Context, item *batch.DequeuedItem, _ string, _ time.Duration) error {
	m.ItemsSucceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("task", taskOf(item))))
	return nil
}

// OnItemFailed implements ext.ItemFailed.
func (m *MetricsExtension) OnItemFailed(ctx context.Context, item *batch.DequeuedItem, f *batch.Failure) error {
	m.ItemsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", taskOf(item)),
		attribute.String("error_code", f.ErrorCode),
	))
	return nil
}

// OnBatchCompleted implements ext.BatchCompleted.
func (m *MetricsExtension) OnBatchCompleted(ctx context.Context, meta *batch.Meta, r *batch.CompleteResult) error {
	status := "ok"
	if r.FailedRunCount > 0 {
		status = "partial"
	}
	if r.SuccessfulRunCount == 0 && r.FailedRunCount > 0 {
		status = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.BatchesCompleted.Add(ctx, 1, attrs)
	if !meta.CreatedAt.IsZero() {
		m.BatchDuration.Record(ctx, time.Since(meta.CreatedAt).Seconds(), attrs)
	}
	return nil
}

func taskOf(item *batch.DequeuedItem) string {
	if item == nil || item.Item == nil {
		return ""
	}
	return item.Item.Task
}
