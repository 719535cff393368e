// Package middleware provides composable middleware for batch item
// processing. Middleware wraps the item processor synchronously and can
// modify execution (recover from panics, inject the environment, log, add
// tracing, etc.).
package middleware

import (
	"context"
	"errors"

	"github.com/xraph/runqueue/batch"
)

// Handler is the terminal function that processes one item.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the dequeued item, and the next handler
// to call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, item *batch.DequeuedItem, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, env) executes as:
//
//	logging → recover → env → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, item, prev)
			}
		}
		return h(ctx)
	}
}

// outcome classifies a handler error: "ok", "failed" for an expected item
// failure, "error" for anything else.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ie *batch.ItemError
	if errors.As(err, &ie) {
		return "failed"
	}
	return "error"
}

func taskName(item *batch.DequeuedItem) string {
	if item.Item == nil {
		return ""
	}
	return item.Item.Task
}
