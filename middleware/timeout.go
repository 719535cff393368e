package middleware

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/xraph/runqueue/batch"
)

// TimeoutOption is the item option holding a processing deadline, either
// a duration string ("30s") or a number of seconds.
const TimeoutOption = "timeout"

// Timeout returns middleware that enforces a per-item processing deadline.
// Items whose options carry TimeoutOption run under context.WithTimeout;
// fallback applies to the others. A zero fallback means no deadline.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) error {
		d := fallback
		if item.Item != nil {
			if v, ok := itemTimeout(item.Item.Options); ok {
				d = v
			}
		}
		if d > 0 {
			logger.Debug("item timeout set",
				slog.String("batch_id", item.BatchID),
				slog.Int("item_index", item.ItemIndex),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}

// itemTimeout reads TimeoutOption. Numbers may arrive as any integer or
// float kind depending on the codec that decoded the options.
func itemTimeout(opts map[string]any) (time.Duration, bool) {
	raw, ok := opts[TimeoutOption]
	if !ok || raw == nil {
		return 0, false
	}
	if s, ok := raw.(string); ok {
		d, err := time.ParseDuration(s)
		return d, err == nil && d > 0
	}

	v := reflect.ValueOf(raw)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		return time.Duration(n) * time.Second, n > 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := v.Uint()
		return time.Duration(n) * time.Second, n > 0
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		return time.Duration(f * float64(time.Second)), f > 0
	default:
		return 0, false
	}
}
