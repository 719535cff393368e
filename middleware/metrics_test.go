package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/runqueue/batch"
	mw "github.com/xraph/runqueue/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func statusOf(t *testing.T, reader *sdkmetric.ManualReader) string {
	t.Helper()
	metric := findMetric(collectMetrics(t, reader), "runqueue.item.processed")
	if metric == nil {
		t.Fatal("runqueue.item.processed metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("expected Sum[int64] data points")
	}
	v, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status"))
	return v.AsString()
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestItem(), func(_ context.Context) error {
		return nil
	})

	metric := findMetric(collectMetrics(t, reader), "runqueue.item.duration")
	if metric == nil {
		t.Fatal("runqueue.item.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected one duration sample, got %+v", hist.DataPoints)
	}
}

func TestMetrics_Status(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, "ok"},
		{"failed", batch.NewItemError(errors.New("no"), "TRIGGER_FAILED"), "failed"},
		{"error", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			m := mw.MetricsWithMeter(mp.Meter("test"))
			_ = m(context.Background(), newTestItem(), func(_ context.Context) error {
				return tt.err
			})
			if got := statusOf(t, reader); got != tt.want {
				t.Fatalf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetrics_TaskAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestItem(), func(_ context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "runqueue.item.duration")
	if metric == nil {
		t.Fatal("runqueue.item.duration metric not found")
	}
	hist := metric.Data.(metricdata.Histogram[float64])
	v, ok := hist.DataPoints[0].Attributes.Value(attribute.Key("task"))
	if !ok || v.AsString() != "send-email" {
		t.Fatalf("task attribute = %v, want send-email", v.AsString())
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestItem(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}
