package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/runqueue/keys"
)

// QueueConfig is the static configuration of one queue.
type QueueConfig struct {
	// Name is the queue name within its environment.
	Name string

	// ConcurrencyLimit caps the runs executing from this queue. Nil means
	// unbounded.
	ConcurrencyLimit *int

	// ReleaseConcurrencyOnWaitpoint releases the queue slot, not only the
	// environment slot, whenever a run of this queue suspends.
	ReleaseConcurrencyOnWaitpoint bool
}

// Run identifies a run for slot accounting.
type Run struct {
	ID             string
	Env            keys.Env
	Queue          string
	ConcurrencyKey string
}

func (r Run) envScope() Scope   { return EnvScope(r.Env) }
func (r Run) queueScope() Scope { return QueueScope(r.Env, r.Queue, r.ConcurrencyKey) }

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used by the Ledger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// Ledger applies the run-level slot policy on top of a Store. It is safe
// for concurrent use.
type Ledger struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	queues map[string]QueueConfig
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		queues: make(map[string]QueueConfig),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func queueConfigKey(env keys.Env, name string) string {
	return env.OrgID + "\x00" + env.ProjectID + "\x00" + env.EnvID + "\x00" + name
}

// Configure persists the queue limit and waitpoint policy, so Ledgers in
// other processes apply them without configuring the queue themselves.
// Reconfiguring a queue keeps the runs currently holding slots.
func (l *Ledger) Configure(ctx context.Context, env keys.Env, cfg QueueConfig) error {
	scope := QueueScope(env, cfg.Name, "")
	if err := l.store.SetLimit(ctx, scope, cfg.ConcurrencyLimit); err != nil {
		return fmt.Errorf("configure queue %s: %w", cfg.Name, err)
	}
	if err := l.store.SetReleaseOnWaitpoint(ctx, scope, cfg.ReleaseConcurrencyOnWaitpoint); err != nil {
		return fmt.Errorf("configure queue %s: %w", cfg.Name, err)
	}

	l.mu.Lock()
	l.queues[queueConfigKey(env, cfg.Name)] = cfg
	l.mu.Unlock()
	return nil
}

// QueueConfig returns the configuration this Ledger was given for a queue.
func (l *Ledger) QueueConfig(env keys.Env, name string) (QueueConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.queues[queueConfigKey(env, name)]
	return cfg, ok
}

// SetEnvironmentLimit persists the environment limit. Nil means unbounded.
func (l *Ledger) SetEnvironmentLimit(ctx context.Context, env keys.Env, limit *int) error {
	return l.store.SetLimit(ctx, EnvScope(env), limit)
}

// Acquire reserves a queue slot and an environment slot for run. Either
// both are granted or neither is. A false result means the run must stay
// queued.
func (l *Ledger) Acquire(ctx context.Context, run Run) (bool, error) {
	ok, err := l.store.ReserveSlots(ctx, []Scope{run.queueScope(), run.envScope()}, run.ID)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", run.ID, err)
	}
	if !ok {
		l.logger.Debug("concurrency slot unavailable",
			slog.String("run_id", run.ID),
			slog.String("env_id", run.Env.EnvID),
			slog.String("queue", run.Queue),
		)
	}
	return ok, nil
}

// Release frees every slot run holds, current or reserved.
func (l *Ledger) Release(ctx context.Context, run Run) error {
	if err := l.store.ReleaseSlot(ctx, run.queueScope(), run.ID); err != nil {
		return fmt.Errorf("release %s: %w", run.ID, err)
	}
	if err := l.store.ReleaseSlot(ctx, run.envScope(), run.ID); err != nil {
		return fmt.Errorf("release %s: %w", run.ID, err)
	}
	return nil
}

// Suspend moves run's slots to the reserve while it waits. The
// environment slot always moves. The queue slot moves too when
// releaseConcurrency is set, when the queue releases on waitpoints, or
// when the queue is unbounded.
func (l *Ledger) Suspend(ctx context.Context, run Run, releaseConcurrency bool) error {
	releaseQueue, err := l.releasesQueueOnSuspend(ctx, run, releaseConcurrency)
	if err != nil {
		return err
	}

	if releaseQueue {
		if _, err := l.store.MoveToReserve(ctx, run.queueScope(), run.ID); err != nil {
			return fmt.Errorf("suspend %s: %w", run.ID, err)
		}
	}
	if _, err := l.store.MoveToReserve(ctx, run.envScope(), run.ID); err != nil {
		return fmt.Errorf("suspend %s: %w", run.ID, err)
	}

	l.logger.Debug("run suspended",
		slog.String("run_id", run.ID),
		slog.String("env_id", run.Env.EnvID),
		slog.Bool("queue_released", releaseQueue),
	)
	return nil
}

func (l *Ledger) releasesQueueOnSuspend(ctx context.Context, run Run, releaseConcurrency bool) (bool, error) {
	if releaseConcurrency {
		return true, nil
	}
	scope := QueueScope(run.Env, run.Queue, "")
	release, err := l.store.ReleasesOnWaitpoint(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("suspend %s: %w", run.ID, err)
	}
	if release {
		return true, nil
	}
	limit, err := l.store.Limit(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("suspend %s: %w", run.ID, err)
	}
	return limit == nil, nil
}

// Resume re-admits run to every scope it holds in reserve, regardless of
// the current limits.
func (l *Ledger) Resume(ctx context.Context, run Run) error {
	if _, err := l.store.ResumeFromReserve(ctx, run.queueScope(), run.ID); err != nil {
		return fmt.Errorf("resume %s: %w", run.ID, err)
	}
	if _, err := l.store.ResumeFromReserve(ctx, run.envScope(), run.ID); err != nil {
		return fmt.Errorf("resume %s: %w", run.ID, err)
	}
	return nil
}

// Counts is a snapshot of one scope.
type Counts struct {
	Current int64 `json:"current"`
	Reserve int64 `json:"reserve"`
	Limit   *int  `json:"limit"`
}

// Snapshot reads the counts and limit of scope.
func (l *Ledger) Snapshot(ctx context.Context, scope Scope) (Counts, error) {
	var c Counts
	var err error
	if c.Current, err = l.store.CurrentCount(ctx, scope); err != nil {
		return c, err
	}
	if c.Reserve, err = l.store.ReserveCount(ctx, scope); err != nil {
		return c, err
	}
	if c.Limit, err = l.store.Limit(ctx, scope); err != nil {
		return c, err
	}
	return c, nil
}
