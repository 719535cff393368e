package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/runqueue/batch"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

func add[H any](list []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: e.Name(), hook: h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register must not be called concurrently with the Emit methods.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	batchEnqueued  []entry[BatchEnqueued]
	itemStarted    []entry[ItemStarted]
	itemSucceeded  []entry[ItemSucceeded]
	itemFailed     []entry[ItemFailed]
	batchCompleted []entry[BatchCompleted]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and caches it for every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.batchEnqueued = add(r.batchEnqueued, e)
	r.itemStarted = add(r.itemStarted, e)
	r.itemSucceeded = add(r.itemSucceeded, e)
	r.itemFailed = add(r.itemFailed, e)
	r.batchCompleted = add(r.batchCompleted, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitBatchEnqueued notifies all extensions that implement BatchEnqueued.
func (r *Registry) EmitBatchEnqueued(ctx context.Context, meta *batch.Meta) {
	for _, e := range r.batchEnqueued {
		if err := e.hook.OnBatchEnqueued(ctx, meta); err != nil {
			r.logHookError("OnBatchEnqueued", e.name, err)
		}
	}
}

// EmitItemStarted notifies all extensions that implement ItemStarted.
func (r *Registry) EmitItemStarted(ctx context.Context, item *batch.DequeuedItem) {
	for _, e := range r.itemStarted {
		if err := e.hook.OnItemStarted(ctx, item); err != nil {
			r.logHookError("OnItemStarted", e.name, err)
		}
	}
}

// EmitItemSucceeded notifies all extensions that implement ItemSucceeded.
func (r *Registry) EmitItemSucceeded(ctx context.Context, item *batch.DequeuedItem, runID string, elapsed time.Duration) {
	for _, e := range r.itemSucceeded {
		if err := e.hook.OnItemSucceeded(ctx, item, runID, elapsed); err != nil {
			r.logHookError("OnItemSucceeded", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, item *batch.DequeuedItem, failure *batch.Failure) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, item, failure); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// EmitBatchCompleted notifies all extensions that implement BatchCompleted.
func (r *Registry) EmitBatchCompleted(ctx context.Context, meta *batch.Meta, result *batch.CompleteResult) {
	for _, e := range r.batchCompleted {
		if err := e.hook.OnBatchCompleted(ctx, meta, result); err != nil {
			r.logHookError("OnBatchCompleted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
