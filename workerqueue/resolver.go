package workerqueue

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// EnvironmentTypeDevelopment marks environments whose version 1 runs are
// pinned to their own queue.
const EnvironmentTypeDevelopment = "DEVELOPMENT"

// Message versions.
const (
	MessageV1 = 1
	MessageV2 = 2
)

// Message is the routing-relevant part of an outbound dispatch message.
type Message struct {
	Version         int      `json:"version"`
	RunID           string   `json:"runId,omitempty"`
	EnvironmentID   string   `json:"environmentId"`
	EnvironmentType string   `json:"environmentType,omitempty"`
	ProjectID       string   `json:"projectId"`
	OrgID           string   `json:"orgId"`
	WorkerQueue     string   `json:"workerQueue,omitempty"`
	MasterQueues    []string `json:"masterQueues,omitempty"`
}

// Resolver maps messages to worker queue names. It is safe for concurrent
// use; overrides may be replaced at any time.
type Resolver struct {
	overrides atomic.Pointer[Overrides]
	logger    *slog.Logger
}

type resolverConfig struct {
	overrides *Overrides
	raw       []byte
	hasRaw    bool
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*resolverConfig)

// WithOverrides sets the override map directly. It takes precedence over
// raw JSON and the environment variable.
func WithOverrides(o *Overrides) Option {
	return func(c *resolverConfig) { c.overrides = o }
}

// WithRawOverrides sets the override map as a JSON document. It takes
// precedence over the environment variable.
func WithRawOverrides(raw []byte) Option {
	return func(c *resolverConfig) {
		c.raw = raw
		c.hasRaw = true
	}
}

// WithLookupEnv replaces os.LookupEnv as the source of EnvVar.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(c *resolverConfig) { c.lookupEnv = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *resolverConfig) { c.logger = l }
}

// NewResolver creates a Resolver. Invalid override configuration never
// fails construction: it is logged and the resolver routes every message
// to its own worker queue.
func NewResolver(opts ...Option) *Resolver {
	cfg := resolverConfig{
		lookupEnv: os.LookupEnv,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Resolver{logger: cfg.logger}

	switch {
	case cfg.overrides != nil:
		r.overrides.Store(cfg.overrides)
	case cfg.hasRaw:
		r.load(cfg.raw, "config")
	default:
		if raw, ok := cfg.lookupEnv(EnvVar); ok {
			r.load([]byte(raw), EnvVar)
		}
	}
	return r
}

func (r *Resolver) load(raw []byte, source string) {
	o, err := ParseOverrides(raw)
	if err != nil {
		r.logger.Error("invalid worker queue overrides, using default routing",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return
	}
	r.overrides.Store(o)
}

// Overrides returns the active override map, or nil.
func (r *Resolver) Overrides() *Overrides { return r.overrides.Load() }

// SetOverrides replaces the override map wholesale. Nil clears it.
func (r *Resolver) SetOverrides(o *Overrides) { r.overrides.Store(o) }

// Reload parses raw and, if valid, replaces the override map. On error the
// previous map stays active.
func (r *Resolver) Reload(raw []byte) error {
	o, err := ParseOverrides(raw)
	if err != nil {
		return err
	}
	r.overrides.Store(o)
	return nil
}

// Resolve returns the worker queue for msg. It never fails.
func (r *Resolver) Resolve(msg *Message) string {
	if msg.Version == MessageV1 {
		return resolveV1(msg)
	}

	o := r.overrides.Load()
	if o.IsEmpty() {
		return msg.WorkerQueue
	}
	if q, ok := lookup(o.EnvironmentID, msg.EnvironmentID); ok {
		return q
	}
	if q, ok := lookup(o.ProjectID, msg.ProjectID); ok {
		return q
	}
	if q, ok := lookup(o.OrgID, msg.OrgID); ok {
		return q
	}
	if q, ok := lookup(o.WorkerQueue, msg.WorkerQueue); ok {
		return q
	}
	return msg.WorkerQueue
}

func resolveV1(msg *Message) string {
	if msg.EnvironmentType == EnvironmentTypeDevelopment {
		return msg.EnvironmentID
	}
	if len(msg.MasterQueues) > 0 {
		return msg.MasterQueues[0]
	}
	return msg.WorkerQueue
}

func lookup(m map[string]string, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	q, ok := m[key]
	return q, ok
}
