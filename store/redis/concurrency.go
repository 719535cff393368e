package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/runqueue/concurrency"
)

// SetLimit stores the scope limit; nil deletes it.
func (s *Store) SetLimit(ctx context.Context, scope concurrency.Scope, limit *int) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	_, _, lk := scope.Keys(s.keys)

	var err error
	if limit == nil {
		err = s.client.Del(ctx, lk).Err()
	} else {
		err = s.client.Set(ctx, lk, *limit, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("runqueue/redis: set limit: %w", err)
	}
	return nil
}

// Limit returns the scope limit, or nil when unbounded.
func (s *Store) Limit(ctx context.Context, scope concurrency.Scope) (*int, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	_, _, lk := scope.Keys(s.keys)

	v, err := s.client.Get(ctx, lk).Int()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("runqueue/redis: get limit: %w", err)
	}
	return &v, nil
}

// SetReleaseOnWaitpoint persists the waitpoint policy of a queue scope.
func (s *Store) SetReleaseOnWaitpoint(ctx context.Context, scope concurrency.Scope, release bool) error {
	k, err := scope.WaitpointKey(s.keys)
	if err != nil {
		return err
	}
	if release {
		err = s.client.Set(ctx, k, 1, 0).Err()
	} else {
		err = s.client.Del(ctx, k).Err()
	}
	if err != nil {
		return fmt.Errorf("runqueue/redis: set waitpoint policy: %w", err)
	}
	return nil
}

// ReleasesOnWaitpoint reports the waitpoint policy of a queue scope.
func (s *Store) ReleasesOnWaitpoint(ctx context.Context, scope concurrency.Scope) (bool, error) {
	k, err := scope.WaitpointKey(s.keys)
	if err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("runqueue/redis: get waitpoint policy: %w", err)
	}
	return n == 1, nil
}

// ReserveSlot admits runID into the current set of scope.
func (s *Store) ReserveSlot(ctx context.Context, scope concurrency.Scope, runID string) (bool, error) {
	return s.ReserveSlots(ctx, []concurrency.Scope{scope}, runID)
}

// ReserveSlots admits runID into every scope or none, in one script.
func (s *Store) ReserveSlots(ctx context.Context, scopes []concurrency.Scope, runID string) (bool, error) {
	keyList := make([]string, 0, 3*len(scopes))
	for _, sc := range scopes {
		if err := sc.Validate(); err != nil {
			return false, err
		}
		ck, rk, lk := sc.Keys(s.keys)
		keyList = append(keyList, ck, rk, lk)
	}

	n, err := reserveScript.Run(ctx, s.client, keyList, runID).Int()
	if err != nil {
		return false, fmt.Errorf("runqueue/redis: reserve slot: %w", err)
	}
	return n == 1, nil
}

// ReleaseSlot removes runID from the current and reserve sets of scope.
func (s *Store) ReleaseSlot(ctx context.Context, scope concurrency.Scope, runID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	ck, rk, _ := scope.Keys(s.keys)

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, ck, runID)
	pipe.SRem(ctx, rk, runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("runqueue/redis: release slot: %w", err)
	}
	return nil
}

// MoveToReserve moves runID from current to reserve with SMOVE.
func (s *Store) MoveToReserve(ctx context.Context, scope concurrency.Scope, runID string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	ck, rk, _ := scope.Keys(s.keys)

	moved, err := s.client.SMove(ctx, ck, rk, runID).Result()
	if err != nil {
		return false, fmt.Errorf("runqueue/redis: move to reserve: %w", err)
	}
	return moved, nil
}

// ResumeFromReserve moves runID from reserve back to current with SMOVE.
func (s *Store) ResumeFromReserve(ctx context.Context, scope concurrency.Scope, runID string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	ck, rk, _ := scope.Keys(s.keys)

	moved, err := s.client.SMove(ctx, rk, ck, runID).Result()
	if err != nil {
		return false, fmt.Errorf("runqueue/redis: resume from reserve: %w", err)
	}
	return moved, nil
}

// CurrentCount returns the size of the current set of scope.
func (s *Store) CurrentCount(ctx context.Context, scope concurrency.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	ck, _, _ := scope.Keys(s.keys)

	n, err := s.client.SCard(ctx, ck).Result()
	if err != nil {
		return 0, fmt.Errorf("runqueue/redis: current count: %w", err)
	}
	return n, nil
}

// ReserveCount returns the size of the reserve set of scope.
func (s *Store) ReserveCount(ctx context.Context, scope concurrency.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	_, rk, _ := scope.Keys(s.keys)

	n, err := s.client.SCard(ctx, rk).Result()
	if err != nil {
		return 0, fmt.Errorf("runqueue/redis: reserve count: %w", err)
	}
	return n, nil
}
