package batchqueue

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/backoff"
	"github.com/xraph/runqueue/ext"
	"github.com/xraph/runqueue/middleware"
	"github.com/xraph/runqueue/ratelimit"
)

// instrumentationName is the tracer and meter name used by the queue.
const instrumentationName = "github.com/xraph/runqueue/batchqueue"

// Option configures a Queue.
type Option func(*Queue)

// WithConfig replaces the queue tunables wholesale.
func WithConfig(cfg runqueue.Config) Option {
	return func(q *Queue) { q.config = cfg }
}

// WithConsumers sets the number of consumer loops.
func WithConsumers(n int) Option {
	return func(q *Queue) { q.config.Consumers = n }
}

// WithPollInterval sets how long an idle consumer waits between iterations.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.config.PollInterval = d }
}

// WithQuantum sets the DRR credit granted per environment visit.
func WithQuantum(n int) Option {
	return func(q *Queue) { q.config.Quantum = n }
}

// WithMaxDeficit caps the credit an environment may accumulate.
func WithMaxDeficit(n int) Option {
	return func(q *Queue) { q.config.MaxDeficit = n }
}

// WithMasterQueueLimit bounds the master queue members scanned per tick.
func WithMasterQueueLimit(n int) Option {
	return func(q *Queue) { q.config.MasterQueueLimit = n }
}

// WithMaxItemsPerEnvironment bounds the items popped for one environment
// per tick.
func WithMaxItemsPerEnvironment(n int) Option {
	return func(q *Queue) { q.config.MaxItemsPerEnvironment = n }
}

// WithShutdownTimeout sets how long Close waits for in-flight items.
func WithShutdownTimeout(d time.Duration) Option {
	return func(q *Queue) { q.config.ShutdownTimeout = d }
}

// WithItemRateLimit limits item processing across all consumers of this
// queue to perSecond items with the given burst.
func WithItemRateLimit(perSecond float64, burst int) Option {
	return func(q *Queue) { q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithLimits applies per-task and per-environment limits to item
// processing in this process.
func WithLimits(m *ratelimit.Manager) Option {
	return func(q *Queue) { q.limits = m }
}

// WithBackoff sets the delay strategy used after failed consumer
// iterations.
func WithBackoff(s backoff.Strategy) Option {
	return func(q *Queue) { q.backoff = s }
}

// WithRecordAttempts sets how many times recording an item outcome is
// attempted, and the delay between attempts.
func WithRecordAttempts(n int, s backoff.Strategy) Option {
	return func(q *Queue) {
		q.recordAttempts = n
		if s != nil {
			q.recordBackoff = s
		}
	}
}

// WithMiddleware appends item processing middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(q *Queue) { q.middleware = append(q.middleware, mws...) }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(q *Queue) { q.pendingExts = append(q.pendingExts, e) }
}

// WithTracerProvider enables a span per processed item.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(q *Queue) {
		if tp != nil {
			q.tracing = middleware.TracingWithTracer(tp.Tracer(instrumentationName))
		}
	}
}

// WithMeterProvider enables item duration and outcome metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(q *Queue) {
		if mp != nil {
			q.metrics = middleware.MetricsWithMeter(mp.Meter(instrumentationName))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}
