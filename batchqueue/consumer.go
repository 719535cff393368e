package batchqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/backoff"
	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/id"
)

// consumer is one polling loop. Consumers share nothing but the store.
type consumer struct {
	id     id.ConsumerID
	queue  *Queue
	drr    batch.DRRConfig
	stopCh <-chan struct{}
}

func (c *consumer) run(ctx context.Context) {
	q := c.queue
	log := q.logger.With(slog.String("consumer_id", c.id.String()))
	log.Debug("consumer started")
	defer log.Debug("consumer stopped")

	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		items, err := q.store.DequeueDRR(ctx, c.drr)
		if err != nil {
			failures++
			log.Error("drr iteration failed",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			c.sleep(ctx, q.backoff.Delay(failures))
			continue
		}
		failures = 0

		if len(items) == 0 {
			c.sleep(ctx, q.config.PollInterval)
			continue
		}

		// Dequeued items are always driven to a recorded state, even when
		// a stop is requested halfway through the slice.
		for _, item := range items {
			c.process(ctx, log, item)
		}
	}
}

// process applies the process-local limits, then handles the item. A limit
// wait cut short by cancellation still processes the item.
func (c *consumer) process(ctx context.Context, log *slog.Logger, item *batch.DequeuedItem) {
	q := c.queue
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			log.Warn("rate limiter wait aborted", slog.String("error", err.Error()))
		}
	}
	if q.limits != nil {
		task := ""
		if item.Item != nil {
			task = item.Item.Task
		}
		if err := q.limits.Acquire(ctx, task, item.EnvID); err != nil {
			log.Warn("item limit wait aborted",
				slog.String("batch_id", item.BatchID),
				slog.Int("item_index", item.ItemIndex),
				slog.String("error", err.Error()),
			)
		} else {
			defer q.limits.Release(task, item.EnvID)
		}
	}
	q.handleItem(ctx, item)
}

func (c *consumer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.stopCh:
	case <-ctx.Done():
	}
}

// ──────────────────────────────────────────────────
// Item processing
// ──────────────────────────────────────────────────

// handleItem runs the processor through the middleware chain, records the
// outcome and finalizes the batch when this record completes it.
func (q *Queue) handleItem(ctx context.Context, item *batch.DequeuedItem) {
	q.mu.Lock()
	processor := q.processor
	q.mu.Unlock()

	q.extensions.EmitItemStarted(ctx, item)
	start := time.Now()

	var result ProcessItemResult
	err := q.chain(ctx, item, func(ctx context.Context) error {
		if processor == nil {
			return runqueue.ErrNoProcessor
		}
		r, err := processor(ctx, ProcessItemRequest{
			BatchID:    item.BatchID,
			FriendlyID: friendlyID(item),
			ItemIndex:  item.ItemIndex,
			Item:       item.Item,
			Meta:       item.Meta,
		})
		if err != nil {
			return err
		}
		if !r.Success {
			code := r.ErrorCode
			if code == "" {
				code = batch.ErrorCodeUnexpected
			}
			return batch.NewItemError(errors.New(r.Error), code)
		}
		result = r
		return nil
	})
	elapsed := time.Since(start)

	// Recording must outlive a cancelled processing context so the item
	// still reaches a terminal state.
	recordCtx := context.WithoutCancel(ctx)

	var processed int64
	if err == nil {
		processed, err = q.recordSuccess(recordCtx, item, result.RunID)
		if err == nil {
			q.extensions.EmitItemSucceeded(ctx, item, result.RunID, elapsed)
		}
	} else {
		f := newFailure(item, err)
		processed, err = q.recordFailure(recordCtx, item, f)
		if err == nil {
			q.extensions.EmitItemFailed(ctx, item, f)
		}
	}
	if err != nil {
		if errors.Is(err, runqueue.ErrBatchNotFound) {
			q.logger.Warn("batch vanished before item was recorded",
				slog.String("batch_id", item.BatchID),
				slog.Int("item_index", item.ItemIndex),
			)
			return
		}
		q.logger.Error("failed to record item outcome",
			slog.String("batch_id", item.BatchID),
			slog.Int("item_index", item.ItemIndex),
			slog.String("error", err.Error()),
		)
		return
	}

	if item.Meta != nil && processed == int64(item.Meta.RunCount) {
		q.finalize(recordCtx, item.BatchID)
	}
}

func (q *Queue) recordSuccess(ctx context.Context, item *batch.DequeuedItem, runID string) (int64, error) {
	var n int64
	err := q.retryRecord(ctx, func(ctx context.Context) error {
		var err error
		n, err = q.store.RecordSuccess(ctx, item.BatchID, item.ItemIndex, runID)
		return err
	})
	return n, err
}

func (q *Queue) recordFailure(ctx context.Context, item *batch.DequeuedItem, f *batch.Failure) (int64, error) {
	var n int64
	err := q.retryRecord(ctx, func(ctx context.Context) error {
		var err error
		n, err = q.store.RecordFailure(ctx, item.BatchID, f)
		return err
	})
	return n, err
}

// retryRecord retries fn with the record backoff. Records are keyed by
// item index in the store, so a retry after a lost reply returns the
// original count. A missing batch is final and is not retried.
func (q *Queue) retryRecord(ctx context.Context, fn func(ctx context.Context) error) error {
	var notFound error
	err := backoff.Retry(ctx, q.recordBackoff, q.recordAttempts, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, runqueue.ErrBatchNotFound) {
			notFound = err
			return nil
		}
		return err
	})
	if notFound != nil {
		return notFound
	}
	return err
}

// newFailure builds the failure record for an item that did not produce a
// run.
func newFailure(item *batch.DequeuedItem, err error) *batch.Failure {
	f := &batch.Failure{
		Index:     item.ItemIndex,
		Error:     err.Error(),
		ErrorCode: batch.ErrorCode(err),
		Timestamp: time.Now().UTC(),
	}
	if item.Item != nil {
		f.Task = item.Item.Task
		f.Payload = batch.TruncatePayload(string(item.Item.Payload))
		f.Options = item.Item.Options
	}
	return f
}

func friendlyID(item *batch.DequeuedItem) string {
	if item.Meta == nil {
		return ""
	}
	return item.Meta.FriendlyID
}

// ──────────────────────────────────────────────────
// Finalization
// ──────────────────────────────────────────────────

// finalize runs once per batch, on the consumer whose record call moved the
// processed counter to the run count.
func (q *Queue) finalize(ctx context.Context, batchID string) {
	log := q.logger.With(slog.String("batch_id", batchID))

	meta, err := q.store.GetMeta(ctx, batchID)
	if err != nil {
		log.Error("finalize: load meta", slog.String("error", err.Error()))
		return
	}
	runs, err := q.store.ListRuns(ctx, batchID)
	if err != nil {
		log.Error("finalize: list runs", slog.String("error", err.Error()))
		return
	}
	failures, err := q.store.ListFailures(ctx, batchID)
	if err != nil {
		log.Error("finalize: list failures", slog.String("error", err.Error()))
		return
	}

	result := &batch.CompleteResult{
		BatchID:            batchID,
		RunIDs:             runs,
		SuccessfulRunCount: len(runs),
		FailedRunCount:     len(failures),
		Failures:           failures,
	}

	q.mu.Lock()
	onComplete := q.onComplete
	q.mu.Unlock()

	if onComplete != nil {
		if cbErr := q.invokeCompletion(ctx, onComplete, result); cbErr != nil {
			log.Warn("batch completion callback failed", slog.String("error", cbErr.Error()))
		}
	}
	q.extensions.EmitBatchCompleted(ctx, meta, result)

	if err := q.store.CleanupBatch(ctx, batchID); err != nil {
		log.Error("finalize: cleanup", slog.String("error", err.Error()))
		return
	}
	log.Debug("batch finalized",
		slog.Int("successful", result.SuccessfulRunCount),
		slog.Int("failed", result.FailedRunCount),
	)
}

// invokeCompletion shields cleanup from a panicking completion callback.
func (q *Queue) invokeCompletion(ctx context.Context, fn CompletionHandler, result *batch.CompleteResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion callback panicked: %v", r)
		}
	}()
	return fn(ctx, result)
}
