package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/codec"
	"github.com/xraph/runqueue/middleware"
)

func newTestItem() *batch.DequeuedItem {
	return &batch.DequeuedItem{
		EnvID:     "env_1",
		BatchID:   "batch_1",
		ItemIndex: 3,
		Item:      &batch.Item{Task: "send-email"},
		Meta: &batch.Meta{
			BatchID:        "batch_1",
			FriendlyID:     "friendly_1",
			EnvironmentID:  "env_1",
			OrganizationID: "org_1",
			ProjectID:      "proj_1",
			RunCount:       5,
		},
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *batch.DequeuedItem, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}
	mw2 := func(ctx context.Context, _ *batch.DequeuedItem, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	err := chain(context.Background(), newTestItem(), func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestItem(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *batch.DequeuedItem, next middleware.Handler) error {
		return next(ctx)
	}
	want := batch.NewItemError(errors.New("queue full"), "QUEUE_FULL")

	err := middleware.Chain(pass)(context.Background(), newTestItem(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), newTestItem(), func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic processing batch_1[3]: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
	if batch.ErrorCode(err) != batch.ErrorCodeUnexpected {
		t.Errorf("panic must map to %s", batch.ErrorCodeUnexpected)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	err := mw(context.Background(), newTestItem(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Outcomes(t *testing.T) {
	mw := middleware.Logging(slog.Default())

	for _, want := range []error{
		nil,
		batch.NewItemError(errors.New("fail"), "TRIGGER_FAILED"),
		errors.New("boom"),
	} {
		err := mw(context.Background(), newTestItem(), func(_ context.Context) error {
			return want
		})
		if !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
}

func TestEnv_InjectsTenant(t *testing.T) {
	mw := middleware.Env()

	err := mw(context.Background(), newTestItem(), func(ctx context.Context) error {
		env, ok := middleware.EnvFromContext(ctx)
		if !ok {
			t.Fatal("expected env in context")
		}
		if env.OrgID != "org_1" || env.ProjectID != "proj_1" || env.EnvID != "env_1" {
			t.Errorf("unexpected env: %+v", env)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnv_NoOpWithoutMeta(t *testing.T) {
	item := newTestItem()
	item.Meta = nil

	_ = middleware.Env()(context.Background(), item, func(ctx context.Context) error {
		if _, ok := middleware.EnvFromContext(ctx); ok {
			t.Fatal("expected no env in context without meta")
		}
		return nil
	})
}

func TestTimeout_FromItemOption(t *testing.T) {
	mw := middleware.Timeout(slog.Default(), 0)

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"duration string", "5s", true},
		{"seconds float", 5.0, true},
		{"seconds int", 5, true},
		{"seconds int8", int8(5), true},
		{"seconds uint16", uint16(300), true},
		{"seconds float32", float32(0.5), true},
		{"negative int", -1, false},
		{"invalid string", "soon", false},
		{"bool", true, false},
		{"absent", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newTestItem()
			if tt.value != nil {
				item.Item.Options = map[string]any{middleware.TimeoutOption: tt.value}
			}
			_ = mw(context.Background(), item, func(ctx context.Context) error {
				_, has := ctx.Deadline()
				if has != tt.want {
					t.Errorf("deadline set = %v, want %v", has, tt.want)
				}
				return nil
			})
		})
	}
}

func TestTimeout_MsgpackDecodedOption(t *testing.T) {
	c := codec.Msgpack{}
	raw, err := c.Marshal(&batch.Item{
		Task:    "send-email",
		Options: map[string]any{middleware.TimeoutOption: 5},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded batch.Item
	if err := c.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	item := newTestItem()
	item.Item = &decoded
	mw := middleware.Timeout(slog.Default(), 0)
	_ = mw(context.Background(), item, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatalf("expected a deadline from %T option", decoded.Options[middleware.TimeoutOption])
		}
		if left := time.Until(deadline); left <= 4*time.Second || left > 5*time.Second {
			t.Errorf("deadline in %v, want about 5s", left)
		}
		return nil
	})
}

func TestTimeout_Fallback(t *testing.T) {
	mw := middleware.Timeout(slog.Default(), 10*time.Millisecond)

	err := mw(context.Background(), newTestItem(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
