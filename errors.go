package runqueue

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("runqueue: no store configured")
	ErrStoreClosed = errors.New("runqueue: store closed")

	// Not found errors.
	ErrBatchNotFound = errors.New("runqueue: batch not found")

	// Validation errors.
	ErrInvalidBatch = errors.New("runqueue: invalid batch")
	ErrInvalidScope = errors.New("runqueue: invalid concurrency scope")

	// Batch queue errors.
	ErrNoProcessor = errors.New("runqueue: no item processor registered")
	ErrQueueClosed = errors.New("runqueue: batch queue closed")
)
