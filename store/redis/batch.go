package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/batch"
)

// EnqueueBatch writes meta, items, the batch queue and the master queue
// membership in one MULTI/EXEC transaction.
func (s *Store) EnqueueBatch(ctx context.Context, meta *batch.Meta, items []*batch.Item) error {
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
	metaRaw, err := s.codec.Marshal(&m)
	if err != nil {
		return fmt.Errorf("runqueue/redis: encode meta: %w", err)
	}

	fields := make([]any, 0, 2*len(items))
	members := make([]goredis.Z, 0, len(items))
	for i, it := range items {
		raw, err := s.codec.Marshal(it)
		if err != nil {
			return fmt.Errorf("runqueue/redis: encode item %d: %w", i, err)
		}
		idx := strconv.Itoa(i)
		fields = append(fields, idx, raw)
		members = append(members, goredis.Z{Score: float64(i), Member: idx})
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.BatchMeta(m.BatchID), metaRaw, 0)
	pipe.HSet(ctx, s.keys.BatchItems(m.BatchID), fields...)
	pipe.ZAdd(ctx, s.keys.BatchQueue(m.BatchID), members...)
	pipe.ZAdd(ctx, s.keys.MasterQueue(), goredis.Z{
		Score:  float64(m.CreatedAt.UnixMilli()),
		Member: s.keys.MasterQueueMember(m.EnvironmentID, m.BatchID),
	})
	pipe.HIncrBy(ctx, s.keys.EnvBatchCounts(), m.EnvironmentID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("runqueue/redis: enqueue batch: %w", err)
	}
	return nil
}

type masterMember struct {
	member  string
	batchID string
}

// DequeueDRR performs one DRR iteration. The master queue scan is one
// ZRANGE; each environment is then visited by one atomic script.
func (s *Store) DequeueDRR(ctx context.Context, cfg batch.DRRConfig) ([]*batch.DequeuedItem, error) {
	cfg = cfg.Normalize()

	stop := int64(-1)
	if cfg.MasterQueueLimit > 0 {
		stop = int64(cfg.MasterQueueLimit) - 1
	}
	members, err := s.client.ZRange(ctx, s.keys.MasterQueue(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("runqueue/redis: scan master queue: %w", err)
	}

	var envOrder []string
	byEnv := make(map[string][]masterMember)
	for _, member := range members {
		envID, batchID, ok := s.keys.ParseMasterQueueMember(member)
		if !ok {
			s.logger.Warn("invalid master queue member", slog.String("member", member))
			continue
		}
		if _, seen := byEnv[envID]; !seen {
			envOrder = append(envOrder, envID)
		}
		byEnv[envID] = append(byEnv[envID], masterMember{member: member, batchID: batchID})
	}

	var out []*batch.DequeuedItem
	for _, envID := range envOrder {
		items, err := s.visitEnv(ctx, envID, byEnv[envID], cfg)
		if err != nil {
			return out, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (s *Store) visitEnv(ctx context.Context, envID string, batches []masterMember, cfg batch.DRRConfig) ([]*batch.DequeuedItem, error) {
	keyList := make([]string, 0, 3+3*len(batches))
	keyList = append(keyList, s.keys.MasterQueue(), s.keys.DeficitTable(), s.keys.EnvBatchCounts())
	args := make([]any, 0, 4+2*len(batches))
	args = append(args, envID, cfg.Quantum, cfg.MaxItemsPerEnvironment, cfg.MaxDeficit)
	for _, b := range batches {
		keyList = append(keyList, s.keys.BatchQueue(b.batchID), s.keys.BatchItems(b.batchID), s.keys.BatchMeta(b.batchID))
		args = append(args, b.member, b.batchID)
	}

	res, err := drrScript.Run(ctx, s.client, keyList, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("runqueue/redis: drr env %s: %w", envID, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("runqueue/redis: drr env %s: unexpected reply length %d", envID, len(res))
	}
	hasMore, _ := res[0].(int64)
	flat, _ := res[1].([]any)

	metas := make(map[string]*batch.Meta)
	out := make([]*batch.DequeuedItem, 0, len(flat)/5)
	for i := 0; i+4 < len(flat); i += 5 {
		batchID, _ := flat[i].(string)
		idxRaw, _ := flat[i+1].(string)
		itemRaw, _ := flat[i+2].(string)
		remaining, _ := flat[i+3].(int64)
		metaRaw, _ := flat[i+4].(string)

		idx, err := strconv.Atoi(idxRaw)
		if err != nil {
			return nil, fmt.Errorf("runqueue/redis: drr env %s: bad index %q: %w", envID, idxRaw, err)
		}

		if metaRaw != "" {
			var m batch.Meta
			if err := s.codec.Unmarshal([]byte(metaRaw), &m); err != nil {
				return nil, fmt.Errorf("runqueue/redis: decode meta %s: %w", batchID, err)
			}
			metas[batchID] = &m
		}

		var item batch.Item
		if itemRaw != "" {
			if err := s.codec.Unmarshal([]byte(itemRaw), &item); err != nil {
				return nil, fmt.Errorf("runqueue/redis: decode item %s/%d: %w", batchID, idx, err)
			}
		}

		d := &batch.DequeuedItem{
			EnvID:             envID,
			BatchID:           batchID,
			ItemIndex:         idx,
			Item:              &item,
			IsBatchComplete:   remaining == 0,
			EnvHasMoreBatches: hasMore == 1,
		}
		if m, ok := metas[batchID]; ok {
			cp := *m
			d.Meta = &cp
		}
		out = append(out, d)
	}
	return out, nil
}

// RecordSuccess appends runID to the batch runs and increments the
// processed counter, once per item index.
func (s *Store) RecordSuccess(ctx context.Context, batchID string, itemIndex int, runID string) (int64, error) {
	return s.record(ctx, batchID, itemIndex, s.keys.BatchRuns(batchID), runID)
}

// RecordFailure appends f to the batch failures and increments the
// processed counter, once per f.Index.
func (s *Store) RecordFailure(ctx context.Context, batchID string, f *batch.Failure) (int64, error) {
	raw, err := s.codec.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("runqueue/redis: encode failure: %w", err)
	}
	return s.record(ctx, batchID, f.Index, s.keys.BatchFailures(batchID), raw)
}

func (s *Store) record(ctx context.Context, batchID string, itemIndex int, listKey string, value any) (int64, error) {
	n, err := recordScript.Run(ctx, s.client,
		[]string{
			s.keys.BatchMeta(batchID),
			listKey,
			s.keys.BatchProcessed(batchID),
			s.keys.BatchRecorded(batchID),
		},
		value, itemIndex,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("runqueue/redis: record result: %w", err)
	}
	if n < 0 {
		return 0, runqueue.ErrBatchNotFound
	}
	return n, nil
}

// GetMeta returns the batch metadata.
func (s *Store) GetMeta(ctx context.Context, batchID string) (*batch.Meta, error) {
	raw, err := s.client.Get(ctx, s.keys.BatchMeta(batchID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, runqueue.ErrBatchNotFound
		}
		return nil, fmt.Errorf("runqueue/redis: get meta: %w", err)
	}
	var m batch.Meta
	if err := s.codec.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("runqueue/redis: decode meta: %w", err)
	}
	return &m, nil
}

// RemainingCount returns the number of items not yet dequeued.
func (s *Store) RemainingCount(ctx context.Context, batchID string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.BatchQueue(batchID)).Result()
	if err != nil {
		return 0, fmt.Errorf("runqueue/redis: remaining count: %w", err)
	}
	return n, nil
}

// ProcessedCount returns the processed counter.
func (s *Store) ProcessedCount(ctx context.Context, batchID string) (int64, error) {
	n, err := s.client.Get(ctx, s.keys.BatchProcessed(batchID)).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("runqueue/redis: processed count: %w", err)
	}
	return n, nil
}

// ListRuns returns the successful run IDs in recording order.
func (s *Store) ListRuns(ctx context.Context, batchID string) ([]string, error) {
	runs, err := s.client.LRange(ctx, s.keys.BatchRuns(batchID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("runqueue/redis: list runs: %w", err)
	}
	return runs, nil
}

// ListFailures returns the failures in recording order.
func (s *Store) ListFailures(ctx context.Context, batchID string) ([]*batch.Failure, error) {
	raws, err := s.client.LRange(ctx, s.keys.BatchFailures(batchID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("runqueue/redis: list failures: %w", err)
	}
	out := make([]*batch.Failure, 0, len(raws))
	for _, raw := range raws {
		var f batch.Failure
		if err := s.codec.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("runqueue/redis: decode failure: %w", err)
		}
		out = append(out, &f)
	}
	return out, nil
}

// CleanupBatch deletes every per-batch key and the master queue
// membership. It is idempotent.
func (s *Store) CleanupBatch(ctx context.Context, batchID string) error {
	meta, err := s.GetMeta(ctx, batchID)
	if errors.Is(err, runqueue.ErrBatchNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	envID := meta.EnvironmentID
	err = cleanupScript.Run(ctx, s.client,
		[]string{
			s.keys.MasterQueue(),
			s.keys.EnvBatchCounts(),
			s.keys.DeficitTable(),
			s.keys.BatchQueue(batchID),
			s.keys.BatchItems(batchID),
			s.keys.BatchMeta(batchID),
			s.keys.BatchProcessed(batchID),
			s.keys.BatchRuns(batchID),
			s.keys.BatchFailures(batchID),
			s.keys.BatchRecorded(batchID),
		},
		s.keys.MasterQueueMember(envID, batchID), envID,
	).Err()
	if err != nil {
		return fmt.Errorf("runqueue/redis: cleanup batch: %w", err)
	}
	return nil
}
