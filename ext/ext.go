// Package ext defines the extension system for runqueue.
// Extensions are notified of batch lifecycle events (batch enqueued, item
// processed, batch completed, etc.) and can react to them — logging,
// metrics, auditing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/runqueue/batch"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// BatchEnqueued is called after a batch is atomically enqueued.
type BatchEnqueued interface {
	OnBatchEnqueued(ctx context.Context, meta *batch.Meta) error
}

// ItemStarted is called when a consumer hands an item to the processor.
type ItemStarted interface {
	OnItemStarted(ctx context.Context, item *batch.DequeuedItem) error
}

// ItemSucceeded is called after an item's run was recorded.
type ItemSucceeded interface {
	OnItemSucceeded(ctx context.Context, item *batch.DequeuedItem, runID string, elapsed time.Duration) error
}

// ItemFailed is called after an item's failure was recorded.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, item *batch.DequeuedItem, failure *batch.Failure) error
}

// BatchCompleted is called once per batch, after the completion callback
// and before cleanup.
type BatchCompleted interface {
	OnBatchCompleted(ctx context.Context, meta *batch.Meta, result *batch.CompleteResult) error
}

// Shutdown is called when the batch queue closes.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
