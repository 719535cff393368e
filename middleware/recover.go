package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/runqueue/batch"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("item processor panicked",
					slog.String("batch_id", item.BatchID),
					slog.Int("item_index", item.ItemIndex),
					slog.String("task", taskName(item)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic processing %s[%d]: %v", item.BatchID, item.ItemIndex, r)
			}
		}()
		return next(ctx)
	}
}
