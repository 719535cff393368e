// Package observability provides an OpenTelemetry metrics extension for
// the batch queue.
//
// [MetricsExtension] implements the batch lifecycle hooks of package ext
// and records:
//
//   - runqueue.batch.enqueued / runqueue.item.enqueued
//   - runqueue.item.succeeded / runqueue.item.failed (by error_code)
//   - runqueue.batch.completed (by status) and runqueue.batch.duration
//
// Register it like any other extension:
//
//	q := batchqueue.New(store,
//	    batchqueue.WithExtension(observability.NewMetricsExtension()),
//	)
package observability
