package batch

import "context"

// Store defines the persistence contract of the DRR batch scheduler.
// Every method that mutates more than one key must be atomic.
type Store interface {
	// EnqueueBatch stores meta, every item keyed by index, the batch
	// queue and the master queue membership in one transaction.
	EnqueueBatch(ctx context.Context, meta *Meta, items []*Item) error

	// DequeueDRR performs one Deficit Round Robin iteration and returns
	// the items it popped.
	DequeueDRR(ctx context.Context, cfg DRRConfig) ([]*DequeuedItem, error)

	// RecordSuccess appends runID to the batch's runs and atomically
	// increments the processed counter, returning the new value. Recording
	// an item index a second time changes nothing and returns the count
	// the first record produced.
	RecordSuccess(ctx context.Context, batchID string, itemIndex int, runID string) (int64, error)

	// RecordFailure is RecordSuccess for a failed item, keyed by f.Index.
	RecordFailure(ctx context.Context, batchID string, f *Failure) (int64, error)

	// GetMeta returns the batch metadata or runqueue.ErrBatchNotFound.
	GetMeta(ctx context.Context, batchID string) (*Meta, error)

	// RemainingCount returns the number of items not yet dequeued.
	RemainingCount(ctx context.Context, batchID string) (int64, error)

	// ProcessedCount returns the current processed counter.
	ProcessedCount(ctx context.Context, batchID string) (int64, error)

	// ListRuns returns the run IDs recorded as successful.
	ListRuns(ctx context.Context, batchID string) ([]string, error)

	// ListFailures returns the recorded failures.
	ListFailures(ctx context.Context, batchID string) ([]*Failure, error)

	// CleanupBatch deletes every per-batch structure. It is idempotent.
	CleanupBatch(ctx context.Context, batchID string) error
}
