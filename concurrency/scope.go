package concurrency

import (
	"fmt"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/keys"
)

// Kind selects the ledger a Scope addresses.
type Kind string

const (
	// KindEnv is the per-environment ledger.
	KindEnv Kind = "env"

	// KindQueue is the per-queue ledger, optionally split by concurrency key.
	KindQueue Kind = "queue"
)

// Scope addresses one concurrency ledger.
type Scope struct {
	Kind           Kind
	Env            keys.Env
	Queue          string
	ConcurrencyKey string
}

// EnvScope returns the environment scope of env.
func EnvScope(env keys.Env) Scope {
	return Scope{Kind: KindEnv, Env: env}
}

// QueueScope returns the scope of queue within env. A non-empty
// concurrencyKey splits the current and reserve sets but shares the
// queue's limit.
func QueueScope(env keys.Env, queue, concurrencyKey string) Scope {
	return Scope{Kind: KindQueue, Env: env, Queue: queue, ConcurrencyKey: concurrencyKey}
}

// Validate reports whether the scope can be mapped to keys.
func (s Scope) Validate() error {
	if s.Env.EnvID == "" {
		return fmt.Errorf("%w: missing environment id", runqueue.ErrInvalidScope)
	}
	switch s.Kind {
	case KindEnv:
		return nil
	case KindQueue:
		if s.Queue == "" {
			return fmt.Errorf("%w: missing queue name", runqueue.ErrInvalidScope)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", runqueue.ErrInvalidScope, s.Kind)
	}
}

// Keys returns the current set, reserve set and limit keys of the scope.
func (s Scope) Keys(p keys.Producer) (current, reserve, limit string) {
	if s.Kind == KindEnv {
		return p.EnvCurrentConcurrency(s.Env),
			p.EnvReserveConcurrency(s.Env),
			p.EnvConcurrencyLimit(s.Env)
	}
	return p.QueueCurrentConcurrency(s.Env, s.Queue, s.ConcurrencyKey),
		p.QueueReserveConcurrency(s.Env, s.Queue, s.ConcurrencyKey),
		p.QueueConcurrencyLimit(s.Env, s.Queue)
}

// WaitpointKey returns the release-on-waitpoint flag key of a queue scope.
func (s Scope) WaitpointKey(p keys.Producer) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	if s.Kind != KindQueue {
		return "", fmt.Errorf("%w: waitpoint policy needs a queue scope", runqueue.ErrInvalidScope)
	}
	return p.QueueReleaseOnWaitpoint(s.Env, s.Queue), nil
}

// String returns a human-readable form used in logs.
func (s Scope) String() string {
	base := s.Env.OrgID + "/" + s.Env.ProjectID + "/" + s.Env.EnvID
	if s.Kind == KindEnv {
		return "env:" + base
	}
	if s.ConcurrencyKey != "" {
		return "queue:" + base + "/" + s.Queue + "#" + s.ConcurrencyKey
	}
	return "queue:" + base + "/" + s.Queue
}
