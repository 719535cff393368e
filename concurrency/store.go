package concurrency

import "context"

// Store defines the persistence contract of the concurrency ledger.
// Every check-then-write sequence must execute atomically on the store.
type Store interface {
	// SetLimit persists the limit of a scope. A nil limit removes it,
	// making the scope unbounded. For queue scopes the limit is shared
	// by every concurrency key of the queue.
	SetLimit(ctx context.Context, scope Scope, limit *int) error

	// Limit returns the persisted limit, or nil when unbounded.
	Limit(ctx context.Context, scope Scope) (*int, error)

	// SetReleaseOnWaitpoint persists whether a queue releases its slots
	// when its runs suspend. Only queue scopes carry the flag.
	SetReleaseOnWaitpoint(ctx context.Context, scope Scope, release bool) error

	// ReleasesOnWaitpoint returns the persisted flag, false when unset.
	ReleasesOnWaitpoint(ctx context.Context, scope Scope) (bool, error)

	// ReserveSlot adds runID to the current set of scope when there is
	// room. It succeeds without change when runID is already current and
	// re-admits a reserved runID regardless of the limit. On a full scope
	// it returns false and changes nothing.
	ReserveSlot(ctx context.Context, scope Scope, runID string) (bool, error)

	// ReserveSlots is ReserveSlot over several scopes, all or nothing.
	ReserveSlots(ctx context.Context, scopes []Scope, runID string) (bool, error)

	// ReleaseSlot removes runID from the current and reserve sets of
	// scope. It is a no-op when runID is absent.
	ReleaseSlot(ctx context.Context, scope Scope, runID string) error

	// MoveToReserve moves runID from current to reserve. It returns false
	// when runID was not current.
	MoveToReserve(ctx context.Context, scope Scope, runID string) (bool, error)

	// ResumeFromReserve moves runID from reserve back to current,
	// ignoring the limit. It returns false when runID was not reserved.
	ResumeFromReserve(ctx context.Context, scope Scope, runID string) (bool, error)

	// CurrentCount returns the size of the current set.
	CurrentCount(ctx context.Context, scope Scope) (int64, error)

	// ReserveCount returns the size of the reserve set.
	ReserveCount(ctx context.Context, scope Scope) (int64, error)
}
