// Package memory is an in-process implementation of store.Store. It runs
// the same DRR and ledger algorithms as the Redis backend under a single
// mutex. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/concurrency"
	"github.com/xraph/runqueue/keys"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ batch.Store       = (*Store)(nil)
	_ concurrency.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithKeys sets the key producer. Keys only matter for concurrency scopes
// here, where they decide which scopes share a ledger.
func WithKeys(p keys.Producer) Option {
	return func(s *Store) { s.keys = p }
}

type batchState struct {
	meta      *batch.Meta
	items     map[int]*batch.Item
	queue     []int
	processed int64
	recorded  map[int]int64
	runs      []string
	failures  []*batch.Failure
}

type masterEntry struct {
	member  string
	envID   string
	batchID string
	score   int64
}

func (a masterEntry) less(b masterEntry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.member < b.member
}

type runSet map[string]struct{}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu   sync.Mutex
	keys keys.Producer

	batches    map[string]*batchState
	master     []masterEntry
	deficits   map[string]int
	envBatches map[string]int

	sets      map[string]runSet
	limits    map[string]int
	waitpoint map[string]bool
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		keys:       keys.New(""),
		batches:    make(map[string]*batchState),
		deficits:   make(map[string]int),
		envBatches: make(map[string]int),
		sets:       make(map[string]runSet),
		limits:     make(map[string]int),
		waitpoint:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle — Ping / Close
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Batch Store
// ──────────────────────────────────────────────────

// EnqueueBatch stores the batch and adds it to the master queue.
func (s *Store) EnqueueBatch(_ context.Context, meta *batch.Meta, items []*batch.Item) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if len(items) != meta.RunCount {
		return fmt.Errorf("%w: batch %s: %d items for run count %d",
			runqueue.ErrInvalidBatch, meta.BatchID, len(items), meta.RunCount)
	}

	m := *meta
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	st := &batchState{
		meta:     &m,
		items:    make(map[int]*batch.Item, len(items)),
		queue:    make([]int, len(items)),
		recorded: make(map[int]int64, len(items)),
	}
	for i, it := range items {
		cp := *it
		st.items[i] = &cp
		st.queue[i] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[m.BatchID] = st
	e := masterEntry{
		member:  s.keys.MasterQueueMember(m.EnvironmentID, m.BatchID),
		envID:   m.EnvironmentID,
		batchID: m.BatchID,
		score:   m.CreatedAt.UnixMilli(),
	}
	pos := sort.Search(len(s.master), func(i int) bool { return e.less(s.master[i]) })
	s.master = append(s.master, masterEntry{})
	copy(s.master[pos+1:], s.master[pos:])
	s.master[pos] = e
	s.envBatches[m.EnvironmentID]++
	return nil
}

// DequeueDRR performs one Deficit Round Robin iteration over the master
// queue.
func (s *Store) DequeueDRR(_ context.Context, cfg batch.DRRConfig) ([]*batch.DequeuedItem, error) {
	cfg = cfg.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	scan := s.master
	if cfg.MasterQueueLimit > 0 && len(scan) > cfg.MasterQueueLimit {
		scan = scan[:cfg.MasterQueueLimit]
	}

	var envOrder []string
	byEnv := make(map[string][]masterEntry)
	for _, e := range scan {
		if _, seen := byEnv[e.envID]; !seen {
			envOrder = append(envOrder, e.envID)
		}
		byEnv[e.envID] = append(byEnv[e.envID], e)
	}

	var out []*batch.DequeuedItem
	for _, envID := range envOrder {
		out = append(out, s.visitEnv(envID, byEnv[envID], cfg)...)
	}
	return out, nil
}

func (s *Store) visitEnv(envID string, entries []masterEntry, cfg batch.DRRConfig) []*batch.DequeuedItem {
	deficit := cfg.EnvCredit(s.deficits[envID])
	popped := 0

	var out []*batch.DequeuedItem
	for _, e := range entries {
		if deficit <= 0 || popped >= cfg.MaxItemsPerEnvironment {
			break
		}
		st := s.batches[e.batchID]
		for st != nil && len(st.queue) > 0 && deficit > 0 && popped < cfg.MaxItemsPerEnvironment {
			idx := st.queue[0]
			st.queue = st.queue[1:]
			deficit -= batch.ItemCost
			popped++

			item := *st.items[idx]
			meta := *st.meta
			out = append(out, &batch.DequeuedItem{
				EnvID:           envID,
				BatchID:         e.batchID,
				ItemIndex:       idx,
				Item:            &item,
				Meta:            &meta,
				IsBatchComplete: len(st.queue) == 0,
			})
		}
		if st == nil || len(st.queue) == 0 {
			s.removeMember(e.member, envID)
		}
	}

	hasMore := s.envBatches[envID] > 0
	if hasMore {
		s.deficits[envID] = deficit
	}
	for _, d := range out {
		d.EnvHasMoreBatches = hasMore
	}
	return out
}

// removeMember drops a master queue member and decrements the environment
// batch count only when the member was present. Callers hold s.mu.
func (s *Store) removeMember(member, envID string) {
	for i, e := range s.master {
		if e.member != member {
			continue
		}
		s.master = append(s.master[:i], s.master[i+1:]...)
		s.envBatches[envID]--
		if s.envBatches[envID] <= 0 {
			delete(s.envBatches, envID)
			delete(s.deficits, envID)
		}
		return
	}
}

// RecordSuccess appends runID and increments the processed counter, once
// per item index.
func (s *Store) RecordSuccess(_ context.Context, batchID string, itemIndex int, runID string) (int64, error) {
	return s.record(batchID, itemIndex, func(st *batchState) {
		st.runs = append(st.runs, runID)
	})
}

// RecordFailure appends f and increments the processed counter, once per
// f.Index.
func (s *Store) RecordFailure(_ context.Context, batchID string, f *batch.Failure) (int64, error) {
	cp := *f
	return s.record(batchID, f.Index, func(st *batchState) {
		st.failures = append(st.failures, &cp)
	})
}

func (s *Store) record(batchID string, itemIndex int, appendResult func(*batchState)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.batches[batchID]
	if !ok {
		return 0, runqueue.ErrBatchNotFound
	}
	if n, dup := st.recorded[itemIndex]; dup {
		return n, nil
	}
	appendResult(st)
	st.processed++
	st.recorded[itemIndex] = st.processed
	return st.processed, nil
}

// GetMeta returns the batch metadata.
func (s *Store) GetMeta(_ context.Context, batchID string) (*batch.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.batches[batchID]
	if !ok {
		return nil, runqueue.ErrBatchNotFound
	}
	cp := *st.meta
	return &cp, nil
}

// RemainingCount returns the number of items not yet dequeued.
func (s *Store) RemainingCount(_ context.Context, batchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.batches[batchID]; ok {
		return int64(len(st.queue)), nil
	}
	return 0, nil
}

// ProcessedCount returns the processed counter.
func (s *Store) ProcessedCount(_ context.Context, batchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.batches[batchID]; ok {
		return st.processed, nil
	}
	return 0, nil
}

// ListRuns returns the successful run IDs in recording order.
func (s *Store) ListRuns(_ context.Context, batchID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.batches[batchID]
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, st.runs...), nil
}

// ListFailures returns the failures in recording order.
func (s *Store) ListFailures(_ context.Context, batchID string) ([]*batch.Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.batches[batchID]
	if !ok {
		return []*batch.Failure{}, nil
	}
	out := make([]*batch.Failure, 0, len(st.failures))
	for _, f := range st.failures {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

// CleanupBatch removes every structure of the batch. It is idempotent.
func (s *Store) CleanupBatch(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	delete(s.batches, batchID)
	envID := st.meta.EnvironmentID
	s.removeMember(s.keys.MasterQueueMember(envID, batchID), envID)
	return nil
}

// ──────────────────────────────────────────────────
// Concurrency Store
// ──────────────────────────────────────────────────

func (s *Store) set(key string) runSet {
	rs, ok := s.sets[key]
	if !ok {
		rs = make(runSet)
		s.sets[key] = rs
	}
	return rs
}

// SetLimit persists the limit of scope; nil removes it.
func (s *Store) SetLimit(_ context.Context, scope concurrency.Scope, limit *int) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	_, _, lk := scope.Keys(s.keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit == nil {
		delete(s.limits, lk)
		return nil
	}
	s.limits[lk] = *limit
	return nil
}

// Limit returns the limit of scope, or nil when unbounded.
func (s *Store) Limit(_ context.Context, scope concurrency.Scope) (*int, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	_, _, lk := scope.Keys(s.keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.limits[lk]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// SetReleaseOnWaitpoint records the waitpoint policy of a queue scope.
func (s *Store) SetReleaseOnWaitpoint(_ context.Context, scope concurrency.Scope, release bool) error {
	k, err := scope.WaitpointKey(s.keys)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if release {
		s.waitpoint[k] = true
	} else {
		delete(s.waitpoint, k)
	}
	return nil
}

// ReleasesOnWaitpoint reports the waitpoint policy of a queue scope.
func (s *Store) ReleasesOnWaitpoint(_ context.Context, scope concurrency.Scope) (bool, error) {
	k, err := scope.WaitpointKey(s.keys)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitpoint[k], nil
}

// ReserveSlot admits runID into the current set of scope.
func (s *Store) ReserveSlot(ctx context.Context, scope concurrency.Scope, runID string) (bool, error) {
	return s.ReserveSlots(ctx, []concurrency.Scope{scope}, runID)
}

// ReserveSlots admits runID into every scope or none.
func (s *Store) ReserveSlots(_ context.Context, scopes []concurrency.Scope, runID string) (bool, error) {
	for _, sc := range scopes {
		if err := sc.Validate(); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sc := range scopes {
		ck, rk, lk := sc.Keys(s.keys)
		cur := s.set(ck)
		if _, ok := cur[runID]; ok {
			continue
		}
		if _, ok := s.set(rk)[runID]; ok {
			continue
		}
		if limit, ok := s.limits[lk]; ok && len(cur) >= limit {
			return false, nil
		}
	}
	for _, sc := range scopes {
		ck, rk, _ := sc.Keys(s.keys)
		delete(s.set(rk), runID)
		s.set(ck)[runID] = struct{}{}
	}
	return true, nil
}

// ReleaseSlot removes runID from the current and reserve sets of scope.
func (s *Store) ReleaseSlot(_ context.Context, scope concurrency.Scope, runID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	ck, rk, _ := scope.Keys(s.keys)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.set(ck), runID)
	delete(s.set(rk), runID)
	return nil
}

// MoveToReserve moves runID from current to reserve.
func (s *Store) MoveToReserve(_ context.Context, scope concurrency.Scope, runID string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	ck, rk, _ := scope.Keys(s.keys)
	return s.move(ck, rk, runID), nil
}

// ResumeFromReserve moves runID from reserve back to current.
func (s *Store) ResumeFromReserve(_ context.Context, scope concurrency.Scope, runID string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	ck, rk, _ := scope.Keys(s.keys)
	return s.move(rk, ck, runID), nil
}

func (s *Store) move(from, to, runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.set(from)
	if _, ok := src[runID]; !ok {
		return false
	}
	delete(src, runID)
	s.set(to)[runID] = struct{}{}
	return true
}

// CurrentCount returns the size of the current set of scope.
func (s *Store) CurrentCount(_ context.Context, scope concurrency.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	ck, _, _ := scope.Keys(s.keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[ck])), nil
}

// ReserveCount returns the size of the reserve set of scope.
func (s *Store) ReserveCount(_ context.Context, scope concurrency.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	_, rk, _ := scope.Keys(s.keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[rk])), nil
}
