// Package backoff provides retry delay strategies for the batch queue: the
// pause a consumer takes after consecutive failed DRR iterations, and the
// pause between attempts to record an item result. All strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(capped(e.Initial, e.Max, attempt))
}

// ExponentialWithJitter applies full jitter to an exponential base so that
// consumers of many processes failing together do not retry in lockstep.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * capped(e.Initial, e.Max, attempt)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return float64(maxDelay)
	}
	if d > math.MaxInt64 {
		return math.MaxInt64
	}
	return d
}

// ConsumerStrategy returns the delay used by consumer loops after failed
// iterations: jittered exponential from 100ms up to 10s.
func ConsumerStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 10*time.Second)
}

// RecordStrategy returns the delay between attempts to record an item
// result: exponential from 50ms up to 2s.
func RecordStrategy() Strategy {
	return NewExponential(50*time.Millisecond, 2*time.Second)
}

// Retry calls fn until it succeeds, attempts calls have been made, or ctx
// is done. It returns the last error.
func Retry(ctx context.Context, s Strategy, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil || attempt >= attempts {
			return err
		}
		t := time.NewTimer(s.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
