package batchqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/backoff"
	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/ext"
	"github.com/xraph/runqueue/id"
	"github.com/xraph/runqueue/middleware"
	"github.com/xraph/runqueue/ratelimit"
	"github.com/xraph/runqueue/store"
)

// defaultRecordAttempts is how many times an item outcome is written before
// the consumer gives up on it.
const defaultRecordAttempts = 5

// ProcessItemRequest is passed to the ItemProcessor for each dequeued item.
type ProcessItemRequest struct {
	BatchID    string
	FriendlyID string
	ItemIndex  int
	Item       *batch.Item
	Meta       *batch.Meta
}

// ProcessItemResult is the outcome of processing one item.
type ProcessItemResult struct {
	Success   bool
	RunID     string
	Error     string
	ErrorCode string
}

// Succeeded returns a successful result for the triggered run.
func Succeeded(runID string) ProcessItemResult {
	return ProcessItemResult{Success: true, RunID: runID}
}

// Failed returns an expected failure result with an error code.
func Failed(err error, code string) ProcessItemResult {
	r := ProcessItemResult{ErrorCode: code}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// ItemProcessor processes one dequeued item. Expected failures are reported
// through the result; a returned error is recorded as UNEXPECTED_ERROR.
type ItemProcessor func(ctx context.Context, req ProcessItemRequest) (ProcessItemResult, error)

// CompletionHandler receives the result of a finalized batch. Its error is
// logged and does not prevent cleanup.
type CompletionHandler func(ctx context.Context, result *batch.CompleteResult) error

// Queue is the batch queue: it accepts batches and runs the consumer loops
// that process them.
type Queue struct {
	store  store.Store
	config runqueue.Config
	logger *slog.Logger

	backoff        backoff.Strategy
	recordBackoff  backoff.Strategy
	recordAttempts int
	limiter        *rate.Limiter
	limits         *ratelimit.Manager

	middleware  []middleware.Middleware
	tracing     middleware.Middleware
	metrics     middleware.Middleware
	chain       middleware.Middleware
	pendingExts []ext.Extension
	extensions  *ext.Registry

	mu         sync.Mutex
	processor  ItemProcessor
	onComplete CompletionHandler
	running    bool
	closed     bool
	stopCh     chan struct{}
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// New creates a batch queue on top of s.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:          s,
		config:         runqueue.DefaultConfig(),
		logger:         slog.Default(),
		backoff:        backoff.ConsumerStrategy(),
		recordBackoff:  backoff.RecordStrategy(),
		recordAttempts: defaultRecordAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.config.Consumers < 0 {
		q.config.Consumers = 0
	}
	if q.config.PollInterval <= 0 {
		q.config.PollInterval = runqueue.DefaultConfig().PollInterval
	}
	if q.recordAttempts < 1 {
		q.recordAttempts = 1
	}

	q.extensions = ext.NewRegistry(q.logger)
	for _, e := range q.pendingExts {
		q.extensions.Register(e)
	}
	q.pendingExts = nil

	var mws []middleware.Middleware
	if q.tracing != nil {
		mws = append(mws, q.tracing)
	}
	if q.metrics != nil {
		mws = append(mws, q.metrics)
	}
	mws = append(mws, middleware.Recover(q.logger))
	mws = append(mws, q.middleware...)
	q.chain = middleware.Chain(mws...)

	return q
}

// OnProcessItem registers the item processor. It must be set before Start.
func (q *Queue) OnProcessItem(fn ItemProcessor) {
	q.mu.Lock()
	q.processor = fn
	q.mu.Unlock()
}

// OnBatchComplete registers the completion callback.
func (q *Queue) OnBatchComplete(fn CompletionHandler) {
	q.mu.Lock()
	q.onComplete = fn
	q.mu.Unlock()
}

// Extensions returns the lifecycle hook registry.
func (q *Queue) Extensions() *ext.Registry { return q.extensions }

// DRRConfig returns the normalized scheduling configuration used by the
// consumer loops.
func (q *Queue) DRRConfig() batch.DRRConfig {
	return batch.DRRConfigFrom(q.config).Normalize()
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

// EnqueueBatch stores a batch and makes it visible to the consumers. It may
// be called whether or not the consumers are running. An empty BatchID is
// filled with a new batch ID, an empty FriendlyID with the BatchID, and a
// zero RunCount with the number of items.
func (q *Queue) EnqueueBatch(ctx context.Context, meta *batch.Meta, items []*batch.Item) (*batch.Meta, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, runqueue.ErrQueueClosed
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: nil meta", runqueue.ErrInvalidBatch)
	}

	m := *meta
	if m.BatchID == "" {
		m.BatchID = id.NewBatchID().String()
	}
	if m.FriendlyID == "" {
		m.FriendlyID = m.BatchID
	}
	if m.RunCount == 0 {
		m.RunCount = len(items)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := q.store.EnqueueBatch(ctx, &m, items); err != nil {
		return nil, err
	}

	q.logger.Debug("batch enqueued",
		slog.String("batch_id", m.BatchID),
		slog.String("env_id", m.EnvironmentID),
		slog.Int("run_count", m.RunCount),
	)
	q.extensions.EmitBatchEnqueued(ctx, &m)
	return &m, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the consumer loops and returns immediately. Calling Start
// on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return runqueue.ErrQueueClosed
	}
	if q.running {
		return nil
	}
	if q.processor == nil {
		return runqueue.ErrNoProcessor
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.stopCh = make(chan struct{})
	q.group = &errgroup.Group{}
	q.running = true

	q.logger.Info("batch queue starting",
		slog.Int("consumers", q.config.Consumers),
		slog.Duration("poll_interval", q.config.PollInterval),
	)

	drr := q.DRRConfig()
	for range q.config.Consumers {
		c := &consumer{
			id:     id.NewConsumerID(),
			queue:  q,
			drr:    drr,
			stopCh: q.stopCh,
		}
		q.group.Go(func() error {
			c.run(runCtx)
			return nil
		})
	}
	return nil
}

// Stop signals the consumer loops to exit and waits for them. Items that
// were already dequeued are processed and recorded before a loop exits. If
// ctx is done first, in-flight processing is cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	stopCh, cancel, group := q.stopCh, q.cancel, q.group
	q.mu.Unlock()

	q.logger.Info("batch queue stopping")
	close(stopCh)

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	var err error
	select {
	case err = <-done:
		q.logger.Info("batch queue stopped gracefully")
	case <-ctx.Done():
		q.logger.Warn("batch queue shutdown timed out, cancelling in-flight items")
		cancel()
		err = <-done
	}
	cancel()
	return err
}

// Close stops the consumers, notifies Shutdown hooks and closes the store.
// The queue cannot be restarted after Close.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	ctx := context.Background()
	if q.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.ShutdownTimeout)
		defer cancel()
	}

	stopErr := q.Stop(ctx)
	q.extensions.EmitShutdown(ctx)

	return errors.Join(stopErr, q.store.Close())
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// GetBatchMeta returns the metadata of an in-flight batch.
func (q *Queue) GetBatchMeta(ctx context.Context, batchID string) (*batch.Meta, error) {
	return q.store.GetMeta(ctx, batchID)
}

// GetBatchRemainingCount returns the number of items not yet dequeued.
func (q *Queue) GetBatchRemainingCount(ctx context.Context, batchID string) (int64, error) {
	return q.store.RemainingCount(ctx, batchID)
}

// GetBatchProcessedCount returns the number of items recorded so far.
func (q *Queue) GetBatchProcessedCount(ctx context.Context, batchID string) (int64, error) {
	return q.store.ProcessedCount(ctx, batchID)
}

// GetBatchRuns returns the run IDs recorded as successful so far.
func (q *Queue) GetBatchRuns(ctx context.Context, batchID string) ([]string, error) {
	return q.store.ListRuns(ctx, batchID)
}

// GetBatchFailures returns the failures recorded so far.
func (q *Queue) GetBatchFailures(ctx context.Context, batchID string) ([]*batch.Failure, error) {
	return q.store.ListFailures(ctx, batchID)
}
