package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/concurrency"
	"github.com/xraph/runqueue/keys"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func newBatch(envID, batchID string, n int, createdAt time.Time) (*batch.Meta, []*batch.Item) {
	meta := &batch.Meta{
		BatchID:        batchID,
		FriendlyID:     "friendly_" + batchID,
		EnvironmentID:  envID,
		OrganizationID: "org",
		ProjectID:      "proj",
		RunCount:       n,
		CreatedAt:      createdAt,
	}
	items := make([]*batch.Item, n)
	for i := range items {
		items[i] = &batch.Item{Task: "task", Payload: []byte(fmt.Sprintf(`{"i":%d}`, i))}
	}
	return meta, items
}

func mustEnqueue(t *testing.T, s *Store, envID, batchID string, n int, createdAt time.Time) {
	t.Helper()
	meta, items := newBatch(envID, batchID, n, createdAt)
	if err := s.EnqueueBatch(context.Background(), meta, items); err != nil {
		t.Fatalf("EnqueueBatch(%s): %v", batchID, err)
	}
}

func drain(t *testing.T, s *Store, cfg batch.DRRConfig) [][]*batch.DequeuedItem {
	t.Helper()
	var ticks [][]*batch.DequeuedItem
	for range 10_000 {
		got, err := s.DequeueDRR(context.Background(), cfg)
		if err != nil {
			t.Fatalf("DequeueDRR: %v", err)
		}
		if len(got) == 0 {
			return ticks
		}
		ticks = append(ticks, got)
	}
	t.Fatal("master queue never drained")
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Batch Store tests
// ──────────────────────────────────────────────────

func TestEnqueueBatch_Validation(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	meta, items := newBatch("env", "b1", 3, time.Now())
	if err := s.EnqueueBatch(ctx, meta, items[:2]); !errors.Is(err, runqueue.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for item count mismatch, got %v", err)
	}

	meta.EnvironmentID = ""
	if err := s.EnqueueBatch(ctx, meta, items); !errors.Is(err, runqueue.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for missing env, got %v", err)
	}
}

func TestEnqueueBatch_Inspect(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	mustEnqueue(t, s, "env", "b1", 4, time.Now())

	meta, err := s.GetMeta(ctx, "b1")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if meta.RunCount != 4 || meta.FriendlyID != "friendly_b1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if n, _ := s.RemainingCount(ctx, "b1"); n != 4 {
		t.Fatalf("expected 4 remaining, got %d", n)
	}
	if _, err := s.GetMeta(ctx, "missing"); !errors.Is(err, runqueue.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestDequeueDRR_IndexOrder(t *testing.T) {
	t.Parallel()
	s := New()
	mustEnqueue(t, s, "env", "b1", 12, time.Now())

	next := 0
	for _, tick := range drain(t, s, batch.DRRConfig{Quantum: 5}) {
		if len(tick) > 5 {
			t.Fatalf("tick exceeded quantum: %d items", len(tick))
		}
		for _, d := range tick {
			if d.ItemIndex != next {
				t.Fatalf("expected index %d, got %d", next, d.ItemIndex)
			}
			if d.Meta == nil || d.Item == nil {
				t.Fatal("dequeued item missing meta or item")
			}
			next++
		}
	}
	if next != 12 {
		t.Fatalf("expected 12 items, got %d", next)
	}
}

func TestDequeueDRR_BatchCompleteFlag(t *testing.T) {
	t.Parallel()
	s := New()
	mustEnqueue(t, s, "env", "b1", 3, time.Now())

	got, err := s.DequeueDRR(context.Background(), batch.DRRConfig{Quantum: 10})
	if err != nil {
		t.Fatalf("DequeueDRR: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	for i, d := range got {
		want := i == 2
		if d.IsBatchComplete != want {
			t.Fatalf("item %d: IsBatchComplete = %v, want %v", i, d.IsBatchComplete, want)
		}
		if d.EnvHasMoreBatches {
			t.Fatalf("item %d: env should have no more batches", i)
		}
	}
	if len(s.master) != 0 {
		t.Fatalf("expected empty master queue, got %d members", len(s.master))
	}
	if _, ok := s.deficits["env"]; ok {
		t.Fatal("expected deficit entry to be discarded")
	}
}

func TestDequeueDRR_Fairness(t *testing.T) {
	t.Parallel()
	s := New()
	base := time.Now()

	envs := []string{"env-a", "env-b", "env-c"}
	for i, env := range envs {
		// env-a's batch is the oldest and largest.
		mustEnqueue(t, s, env, "batch-"+env, 100, base.Add(time.Duration(i)*time.Millisecond))
	}

	seen := make(map[string]bool)
	drained := make(map[string]int)
	for _, tick := range drain(t, s, batch.DRRConfig{Quantum: 2}) {
		perEnv := make(map[string]int)
		for _, d := range tick {
			seen[d.EnvID] = true
			perEnv[d.EnvID]++
			drained[d.EnvID]++
			if drained[d.EnvID] == 100 && len(seen) < len(envs) {
				t.Fatalf("%s drained before every env was served", d.EnvID)
			}
		}
		for env, n := range perEnv {
			if n > 2 {
				t.Fatalf("%s received %d items in one tick, quantum is 2", env, n)
			}
		}
	}
	for _, env := range envs {
		if drained[env] != 100 {
			t.Fatalf("%s drained %d items, want 100", env, drained[env])
		}
	}
}

func TestDequeueDRR_OldestBatchFirst(t *testing.T) {
	t.Parallel()
	s := New()
	base := time.Now()
	mustEnqueue(t, s, "env", "newer", 2, base.Add(time.Second))
	mustEnqueue(t, s, "env", "older", 2, base)

	got, err := s.DequeueDRR(context.Background(), batch.DRRConfig{Quantum: 3})
	if err != nil {
		t.Fatalf("DequeueDRR: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0].BatchID != "older" || got[1].BatchID != "older" || got[2].BatchID != "newer" {
		t.Fatalf("unexpected batch order: %s %s %s", got[0].BatchID, got[1].BatchID, got[2].BatchID)
	}
	if !got[2].EnvHasMoreBatches {
		t.Fatal("expected env to report more batches")
	}
}

func TestDequeueDRR_MaxDeficit(t *testing.T) {
	t.Parallel()
	s := New()
	mustEnqueue(t, s, "env", "b1", 50, time.Now())

	// MaxItemsPerEnvironment below the quantum leaves unspent credit that
	// accumulates up to MaxDeficit.
	cfg := batch.DRRConfig{Quantum: 4, MaxDeficit: 6, MaxItemsPerEnvironment: 1}
	for range 5 {
		if _, err := s.DequeueDRR(context.Background(), cfg); err != nil {
			t.Fatalf("DequeueDRR: %v", err)
		}
	}
	if d := s.deficits["env"]; d > 6 {
		t.Fatalf("deficit %d exceeded MaxDeficit", d)
	}
}

func TestDequeueDRR_MasterQueueLimit(t *testing.T) {
	t.Parallel()
	s := New()
	base := time.Now()
	mustEnqueue(t, s, "env-a", "b1", 5, base)
	mustEnqueue(t, s, "env-b", "b2", 5, base.Add(time.Millisecond))

	got, err := s.DequeueDRR(context.Background(), batch.DRRConfig{Quantum: 5, MasterQueueLimit: 1})
	if err != nil {
		t.Fatalf("DequeueDRR: %v", err)
	}
	for _, d := range got {
		if d.EnvID != "env-a" {
			t.Fatalf("expected only env-a to be scanned, got %s", d.EnvID)
		}
	}
}

func TestDequeueDRR_NoDoubleDequeue(t *testing.T) {
	t.Parallel()
	s := New()
	for i := range 5 {
		mustEnqueue(t, s, fmt.Sprintf("env-%d", i), fmt.Sprintf("b%d", i), 40, time.Now())
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := s.DequeueDRR(context.Background(), batch.DRRConfig{Quantum: 3})
				if err != nil {
					t.Errorf("DequeueDRR: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, d := range got {
					k := fmt.Sprintf("%s/%d", d.BatchID, d.ItemIndex)
					if seen[k] {
						t.Errorf("item %s dequeued twice", k)
					}
					seen[k] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 200 {
		t.Fatalf("expected 200 distinct items, got %d", len(seen))
	}
}

func TestRecordAndCleanup(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	mustEnqueue(t, s, "env", "b1", 2, time.Now())

	if n, err := s.RecordSuccess(ctx, "b1", 0, "run_1"); err != nil || n != 1 {
		t.Fatalf("RecordSuccess = %d, %v", n, err)
	}
	n, err := s.RecordFailure(ctx, "b1", &batch.Failure{Index: 1, Task: "task", Error: "boom"})
	if err != nil || n != 2 {
		t.Fatalf("RecordFailure = %d, %v", n, err)
	}
	if p, _ := s.ProcessedCount(ctx, "b1"); p != 2 {
		t.Fatalf("expected processed 2, got %d", p)
	}
	runs, _ := s.ListRuns(ctx, "b1")
	if len(runs) != 1 || runs[0] != "run_1" {
		t.Fatalf("unexpected runs: %v", runs)
	}
	failures, _ := s.ListFailures(ctx, "b1")
	if len(failures) != 1 || failures[0].Index != 1 {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	for range 2 {
		if err := s.CleanupBatch(ctx, "b1"); err != nil {
			t.Fatalf("CleanupBatch: %v", err)
		}
	}
	if _, err := s.GetMeta(ctx, "b1"); !errors.Is(err, runqueue.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound after cleanup, got %v", err)
	}
	if len(s.master) != 0 || len(s.envBatches) != 0 {
		t.Fatal("cleanup left master queue state behind")
	}
	if _, err := s.RecordSuccess(ctx, "b1", 0, "late"); !errors.Is(err, runqueue.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound after cleanup, got %v", err)
	}
}

func TestRecord_DuplicateIndex(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	mustEnqueue(t, s, "env", "b1", 3, time.Now())

	if n, _ := s.RecordSuccess(ctx, "b1", 0, "run_0"); n != 1 {
		t.Fatalf("first record = %d, want 1", n)
	}
	if n, _ := s.RecordSuccess(ctx, "b1", 1, "run_1"); n != 2 {
		t.Fatalf("second record = %d, want 2", n)
	}
	// A repeated index returns the count its first record produced.
	if n, err := s.RecordSuccess(ctx, "b1", 0, "run_0"); err != nil || n != 1 {
		t.Fatalf("repeated success = %d, %v; want 1", n, err)
	}
	if n, err := s.RecordFailure(ctx, "b1", &batch.Failure{Index: 1, Error: "boom"}); err != nil || n != 2 {
		t.Fatalf("repeated index as failure = %d, %v; want 2", n, err)
	}

	if p, _ := s.ProcessedCount(ctx, "b1"); p != 2 {
		t.Fatalf("expected processed 2, got %d", p)
	}
	runs, _ := s.ListRuns(ctx, "b1")
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", runs)
	}
	failures, _ := s.ListFailures(ctx, "b1")
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %+v", failures)
	}
}

func TestRecordSuccess_ConcurrentCounter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	const n = 50
	mustEnqueue(t, s, "env", "b1", n, time.Now())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reached int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.RecordSuccess(ctx, "b1", i, fmt.Sprintf("run_%d", i))
			if err != nil {
				t.Errorf("RecordSuccess: %v", err)
				return
			}
			if got == n {
				mu.Lock()
				reached++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if reached != 1 {
		t.Fatalf("expected exactly one caller to observe %d, got %d", n, reached)
	}
}

// ──────────────────────────────────────────────────
// Concurrency Store tests
// ──────────────────────────────────────────────────

var testEnv = keys.Env{OrgID: "org", ProjectID: "proj", EnvID: "env"}

func intPtr(v int) *int { return &v }

func TestReserveSlot_Limit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	scope := concurrency.EnvScope(testEnv)

	if err := s.SetLimit(ctx, scope, intPtr(2)); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	for _, run := range []string{"r1", "r2"} {
		if ok, err := s.ReserveSlot(ctx, scope, run); err != nil || !ok {
			t.Fatalf("ReserveSlot(%s) = %v, %v", run, ok, err)
		}
	}
	if ok, _ := s.ReserveSlot(ctx, scope, "r3"); ok {
		t.Fatal("expected r3 to be rejected at the limit")
	}
	if ok, _ := s.ReserveSlot(ctx, scope, "r1"); !ok {
		t.Fatal("expected re-reserving a current run to succeed")
	}
	if n, _ := s.CurrentCount(ctx, scope); n != 2 {
		t.Fatalf("expected 2 current, got %d", n)
	}

	if err := s.ReleaseSlot(ctx, scope, "r1"); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	if err := s.ReleaseSlot(ctx, scope, "r1"); err != nil {
		t.Fatalf("second ReleaseSlot: %v", err)
	}
	if ok, _ := s.ReserveSlot(ctx, scope, "r3"); !ok {
		t.Fatal("expected r3 to be admitted after release")
	}
}

func TestReserveSlot_Unbounded(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	scope := concurrency.QueueScope(testEnv, "q", "")

	for i := range 100 {
		if ok, _ := s.ReserveSlot(ctx, scope, fmt.Sprintf("r%d", i)); !ok {
			t.Fatalf("unbounded scope rejected run %d", i)
		}
	}
	if l, _ := s.Limit(ctx, scope); l != nil {
		t.Fatalf("expected nil limit, got %d", *l)
	}
}

func TestReserveSlots_AllOrNothing(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	queue := concurrency.QueueScope(testEnv, "q", "")
	env := concurrency.EnvScope(testEnv)

	_ = s.SetLimit(ctx, env, intPtr(1))
	if ok, _ := s.ReserveSlot(ctx, env, "other"); !ok {
		t.Fatal("setup reserve failed")
	}

	ok, err := s.ReserveSlots(ctx, []concurrency.Scope{queue, env}, "r1")
	if err != nil || ok {
		t.Fatalf("expected rejection, got %v, %v", ok, err)
	}
	if n, _ := s.CurrentCount(ctx, queue); n != 0 {
		t.Fatalf("queue slot committed on partial failure: %d", n)
	}
}

func TestReserveSlot_ReservedIgnoresLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	scope := concurrency.EnvScope(testEnv)

	_ = s.SetLimit(ctx, scope, intPtr(1))
	_, _ = s.ReserveSlot(ctx, scope, "parent")
	if moved, _ := s.MoveToReserve(ctx, scope, "parent"); !moved {
		t.Fatal("expected parent to move to reserve")
	}
	_, _ = s.ReserveSlot(ctx, scope, "child")

	if ok, _ := s.ReserveSlot(ctx, scope, "parent"); !ok {
		t.Fatal("reserved run must be re-admitted regardless of the limit")
	}
	if n, _ := s.CurrentCount(ctx, scope); n != 2 {
		t.Fatalf("expected 2 current, got %d", n)
	}
	if n, _ := s.ReserveCount(ctx, scope); n != 0 {
		t.Fatalf("expected 0 reserved, got %d", n)
	}
}

func TestMoveToReserve_Absent(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	scope := concurrency.EnvScope(testEnv)

	if moved, _ := s.MoveToReserve(ctx, scope, "ghost"); moved {
		t.Fatal("expected no move for absent run")
	}
	if resumed, _ := s.ResumeFromReserve(ctx, scope, "ghost"); resumed {
		t.Fatal("expected no resume for absent run")
	}
	if n, _ := s.ReserveCount(ctx, scope); n != 0 {
		t.Fatalf("expected 0 reserved, got %d", n)
	}
}

func TestReleaseOnWaitpoint(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	scope := concurrency.QueueScope(testEnv, "q", "user-1")

	if on, err := s.ReleasesOnWaitpoint(ctx, scope); err != nil || on {
		t.Fatalf("unset policy = %v, %v", on, err)
	}
	if err := s.SetReleaseOnWaitpoint(ctx, scope, true); err != nil {
		t.Fatalf("SetReleaseOnWaitpoint: %v", err)
	}
	// The flag belongs to the queue, not to one concurrency key.
	if on, _ := s.ReleasesOnWaitpoint(ctx, concurrency.QueueScope(testEnv, "q", "")); !on {
		t.Fatal("expected policy on for the queue")
	}
	if err := s.SetReleaseOnWaitpoint(ctx, scope, false); err != nil {
		t.Fatalf("SetReleaseOnWaitpoint: %v", err)
	}
	if on, _ := s.ReleasesOnWaitpoint(ctx, scope); on {
		t.Fatal("expected policy off")
	}
	if err := s.SetReleaseOnWaitpoint(ctx, concurrency.EnvScope(testEnv), true); !errors.Is(err, runqueue.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for env scope, got %v", err)
	}
}

func TestConcurrencyKey_SharesLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_ = s.SetLimit(ctx, concurrency.QueueScope(testEnv, "q", ""), intPtr(1))
	a := concurrency.QueueScope(testEnv, "q", "tenant-a")
	b := concurrency.QueueScope(testEnv, "q", "tenant-b")

	if ok, _ := s.ReserveSlot(ctx, a, "r1"); !ok {
		t.Fatal("tenant-a first run rejected")
	}
	if ok, _ := s.ReserveSlot(ctx, a, "r2"); ok {
		t.Fatal("tenant-a second run should hit the queue limit")
	}
	if ok, _ := s.ReserveSlot(ctx, b, "r3"); !ok {
		t.Fatal("tenant-b has its own set and should be admitted")
	}
}

func TestInvalidScope(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.ReserveSlot(ctx, concurrency.Scope{Kind: concurrency.KindQueue, Env: testEnv}, "r"); !errors.Is(err, runqueue.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}
