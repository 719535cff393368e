package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; acquisition should always succeed.
	if !m.TryAcquire("any-task", "env_1") {
		t.Fatal("expected TryAcquire to succeed for unconfigured task")
	}
	m.Release("any-task", "env_1")

	if err := m.Acquire(context.Background(), "any-task", "env_1"); err != nil {
		t.Fatalf("expected Acquire to succeed, got %v", err)
	}
	m.Release("any-task", "env_1")
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_TaskMaxConcurrency(t *testing.T) {
	m := NewManager(TaskConfig{Task: "render", MaxConcurrency: 2})

	if !m.TryAcquire("render", "env_1") || !m.TryAcquire("render", "env_2") {
		t.Fatal("first two acquisitions should succeed")
	}
	if m.TryAcquire("render", "env_3") {
		t.Fatal("third acquisition should fail (max concurrency 2)")
	}
	if got := m.ActiveCount("render"); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}

	m.Release("render", "env_1")
	if !m.TryAcquire("render", "env_3") {
		t.Fatal("acquisition should succeed after Release")
	}
}

func TestManager_EnvMaxConcurrency(t *testing.T) {
	m := NewManager()
	m.SetEnvConfig(EnvConfig{EnvID: "env_1", MaxConcurrency: 1})

	if !m.TryAcquire("a", "env_1") {
		t.Fatal("first acquisition should succeed")
	}
	if m.TryAcquire("b", "env_1") {
		t.Fatal("second acquisition in env_1 should fail across tasks")
	}
	if !m.TryAcquire("b", "env_2") {
		t.Fatal("other environments are unaffected")
	}
	if got := m.EnvActiveCount("env_1"); got != 1 {
		t.Errorf("env active = %d, want 1", got)
	}
}

func TestManager_AcquireBlocksUntilRelease(t *testing.T) {
	m := NewManager(TaskConfig{Task: "render", MaxConcurrency: 1})
	if !m.TryAcquire("render", "env_1") {
		t.Fatal("setup acquisition failed")
	}

	acquired := make(chan error, 1)
	go func() { acquired <- m.Acquire(context.Background(), "render", "env_1") }()

	select {
	case <-acquired:
		t.Fatal("Acquire should block while the slot is held")
	case <-time.After(30 * time.Millisecond):
	}

	m.Release("render", "env_1")
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after Release")
	}
}

func TestManager_AcquireHonoursContext(t *testing.T) {
	m := NewManager(TaskConfig{Task: "render", MaxConcurrency: 1})
	if !m.TryAcquire("render", "env_1") {
		t.Fatal("setup acquisition failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx, "render", "env_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := m.ActiveCount("render"); got != 1 {
		t.Errorf("failed Acquire must not hold a slot, active = %d", got)
	}
}

// ---------------------------------------------------------------------------
// Rate limits
// ---------------------------------------------------------------------------

func TestManager_RateLimit_Throttles(t *testing.T) {
	m := NewManager(TaskConfig{Task: "email", RateLimit: 1, RateBurst: 1})

	if !m.TryAcquire("email", "") {
		t.Fatal("first acquisition should succeed (burst)")
	}
	m.Release("email", "")
	if m.TryAcquire("email", "") {
		t.Fatal("second immediate acquisition should be rate limited")
	}
}

func TestManager_RateLimit_NoTokenLeakOnEnvReject(t *testing.T) {
	m := NewManager(TaskConfig{Task: "email", RateLimit: 1, RateBurst: 1})
	m.SetEnvConfig(EnvConfig{EnvID: "env_1", RateLimit: 1, RateBurst: 1})

	// Exhaust env_1's bucket through another task.
	if !m.TryAcquire("other", "env_1") {
		t.Fatal("setup acquisition failed")
	}
	m.Release("other", "env_1")

	// Rejected by env_1: the task token must be returned.
	if m.TryAcquire("email", "env_1") {
		t.Fatal("expected env rate limit to reject")
	}
	if !m.TryAcquire("email", "env_2") {
		t.Fatal("task token should still be available")
	}
}

func TestManager_RateLimit_AcquireWaits(t *testing.T) {
	m := NewManager(TaskConfig{Task: "email", RateLimit: 50, RateBurst: 1})
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		if err := m.Acquire(ctx, "email", ""); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		m.Release("email", "")
	}
	// Two waits of ~20ms each after the burst token.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected rate limiting to delay, elapsed %v", elapsed)
	}
}

// ---------------------------------------------------------------------------
// Reconfiguration and concurrency
// ---------------------------------------------------------------------------

func TestManager_SetTaskConfig_PreservesActive(t *testing.T) {
	m := NewManager(TaskConfig{Task: "render", MaxConcurrency: 1})
	if !m.TryAcquire("render", "") {
		t.Fatal("setup acquisition failed")
	}

	m.SetTaskConfig(TaskConfig{Task: "render", MaxConcurrency: 2})
	if got := m.ActiveCount("render"); got != 1 {
		t.Fatalf("active = %d, want 1 after reconfigure", got)
	}
	if !m.TryAcquire("render", "") {
		t.Fatal("raised limit should admit a second item")
	}
	if m.TryAcquire("render", "") {
		t.Fatal("third item should be rejected")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(TaskConfig{Task: "render", MaxConcurrency: 3})
	ctx := context.Background()

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Acquire(ctx, "render", "env_1"); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			m.Release("render", "env_1")
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", p)
	}
	if got := m.ActiveCount("render"); got != 0 {
		t.Errorf("active = %d after all releases", got)
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(TaskConfig{Task: "render", MaxConcurrency: 1})
	m.Release("render", "env_1")
	if got := m.ActiveCount("render"); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
}
