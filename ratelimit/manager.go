package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TaskConfig limits the items of one task.
type TaskConfig struct {
	// Task is the task identifier (must match batch.Item.Task).
	Task string

	// MaxConcurrency limits how many items of this task may be processed
	// simultaneously by this process. Zero means no limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained items per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// EnvConfig limits the items of one environment, across all its tasks.
type EnvConfig struct {
	EnvID          string
	MaxConcurrency int
	RateLimit      float64
	RateBurst      int
}

// gate tracks runtime state for one task or environment.
type gate struct {
	maxConcurrency int
	limiter        *rate.Limiter
	active         int
}

func newGate(maxConcurrency int, rateLimit float64, burst int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g != nil && g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

// Manager enforces per-task and per-environment limits. It is safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]*gate
	envs    map[string]*gate
	changed chan struct{} // closed and replaced whenever a slot frees up
}

// NewManager creates a Manager with the given task configurations.
func NewManager(configs ...TaskConfig) *Manager {
	m := &Manager{
		tasks:   make(map[string]*gate, len(configs)),
		envs:    make(map[string]*gate),
		changed: make(chan struct{}),
	}
	for _, cfg := range configs {
		m.tasks[cfg.Task] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	}
	return m
}

// SetTaskConfig dynamically updates (or creates) a task configuration.
func (m *Manager) SetTaskConfig(cfg TaskConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	// Preserve current active count if reconfiguring.
	if existing := m.tasks[cfg.Task]; existing != nil {
		g.active = existing.active
	}
	m.tasks[cfg.Task] = g
	m.broadcast()
}

// SetEnvConfig dynamically updates (or creates) an environment
// configuration.
func (m *Manager) SetEnvConfig(cfg EnvConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if existing := m.envs[cfg.EnvID]; existing != nil {
		g.active = existing.active
	}
	m.envs[cfg.EnvID] = g
	m.broadcast()
}

// TryAcquire takes a slot and a rate token for the task and environment
// without blocking. The caller MUST call Release when it returns true.
func (m *Manager) TryAcquire(task, envID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tg, eg := m.tasks[task], m.envs[envID]
	if tg.full() || eg.full() {
		return false
	}

	var held []*rate.Reservation
	for _, g := range []*gate{tg, eg} {
		if g == nil || g.limiter == nil {
			continue
		}
		r := g.limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			for _, h := range held {
				h.Cancel()
			}
			return false
		}
		held = append(held, r)
	}

	m.take(tg, eg)
	return true
}

// Acquire blocks until a slot is free for both the task and the
// environment, then waits for their rate limiters. The caller MUST call
// Release when it returns nil.
func (m *Manager) Acquire(ctx context.Context, task, envID string) error {
	var tg, eg *gate
	for {
		m.mu.Lock()
		tg, eg = m.tasks[task], m.envs[envID]
		if !tg.full() && !eg.full() {
			m.take(tg, eg)
			m.mu.Unlock()
			break
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}

	for _, g := range []*gate{eg, tg} {
		if g == nil || g.limiter == nil {
			continue
		}
		if err := g.limiter.Wait(ctx); err != nil {
			m.Release(task, envID)
			return err
		}
	}
	return nil
}

// Release frees the slot taken by Acquire or TryAcquire.
func (m *Manager) Release(task, envID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.tasks[task]; g != nil && g.active > 0 {
		g.active--
	}
	if g := m.envs[envID]; g != nil && g.active > 0 {
		g.active--
	}
	m.broadcast()
}

// ActiveCount returns the number of items of task in progress.
func (m *Manager) ActiveCount(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.tasks[task]; g != nil {
		return g.active
	}
	return 0
}

// EnvActiveCount returns the number of items of envID in progress.
func (m *Manager) EnvActiveCount(envID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.envs[envID]; g != nil {
		return g.active
	}
	return 0
}

// take must be called with mu held.
func (m *Manager) take(gates ...*gate) {
	for _, g := range gates {
		if g != nil {
			g.active++
		}
	}
}

// broadcast must be called with mu held.
func (m *Manager) broadcast() {
	close(m.changed)
	m.changed = make(chan struct{})
}
