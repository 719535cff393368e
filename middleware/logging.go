package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/runqueue/batch"
)

// Logging returns middleware that logs item start and outcome at debug
// level, and unexpected errors at error level.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) error {
		logger.Debug("item started",
			slog.String("batch_id", item.BatchID),
			slog.String("env_id", item.EnvID),
			slog.Int("item_index", item.ItemIndex),
			slog.String("task", taskName(item)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch outcome(err) {
		case "ok":
			logger.Debug("item succeeded",
				slog.String("batch_id", item.BatchID),
				slog.Int("item_index", item.ItemIndex),
				slog.Duration("elapsed", elapsed),
			)
		case "failed":
			logger.Debug("item failed",
				slog.String("batch_id", item.BatchID),
				slog.Int("item_index", item.ItemIndex),
				slog.String("error_code", batch.ErrorCode(err)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Error("item errored",
				slog.String("batch_id", item.BatchID),
				slog.Int("item_index", item.ItemIndex),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}

		return err
	}
}
