// Package keys produces the canonical store keys used by runqueue.
//
// Every component that touches the store asks a [Producer] for its keys
// instead of formatting strings itself, so the storage topology can change
// without touching scheduling logic. The default producer lays keys out
// under a common prefix:
//
//	runqueue:batch:master                              master queue (sorted set)
//	runqueue:batch:deficits                            DRR deficit table (hash)
//	runqueue:batch:env_batches                         pending batches per env (hash)
//	runqueue:batch:{batchID}:queue                     item indices (sorted set)
//	runqueue:batch:{batchID}:items                     encoded items (hash)
//	runqueue:batch:{batchID}:meta                      encoded meta (string)
//	runqueue:batch:{batchID}:recorded                  recorded item indices (hash)
//	runqueue:org:{o}:proj:{p}:env:{e}:concurrency            env slots (set)
//	runqueue:org:{o}:proj:{p}:env:{e}:queue:{q}:concurrency  queue slots (set)
//
// The organization and project identifiers are part of every concurrency
// key so that an environment identifier reused across projects can never
// collide.
package keys

import "strings"

// DefaultPrefix is prepended to every key by the default producer.
const DefaultPrefix = "runqueue:"

// memberSep separates the environment and batch identifiers inside a
// master queue member token.
const memberSep = ":"

// Env identifies the tenant an environment belongs to.
type Env struct {
	OrgID     string `json:"org_id"`
	ProjectID string `json:"project_id"`
	EnvID     string `json:"env_id"`
}

// Producer maps identifiers to store keys. Implementations must be pure
// and deterministic.
type Producer interface {
	// MasterQueue is the sorted set of (environment, batch) members with
	// pending items.
	MasterQueue() string
	// MasterQueueMember is the member token for one batch of an environment.
	MasterQueueMember(envID, batchID string) string
	// ParseMasterQueueMember reverses MasterQueueMember.
	ParseMasterQueueMember(member string) (envID, batchID string, ok bool)
	// DeficitTable is the hash of DRR credit per environment.
	DeficitTable() string
	// EnvBatchCounts is the hash of pending batch counts per environment.
	EnvBatchCounts() string

	BatchQueue(batchID string) string
	BatchItems(batchID string) string
	BatchMeta(batchID string) string
	BatchProcessed(batchID string) string
	BatchRuns(batchID string) string
	BatchFailures(batchID string) string
	// BatchRecorded is the hash of recorded item indices to the processed
	// count their record produced.
	BatchRecorded(batchID string) string

	EnvCurrentConcurrency(env Env) string
	EnvReserveConcurrency(env Env) string
	EnvConcurrencyLimit(env Env) string

	QueueCurrentConcurrency(env Env, queue, concurrencyKey string) string
	QueueReserveConcurrency(env Env, queue, concurrencyKey string) string
	QueueConcurrencyLimit(env Env, queue string) string
	// QueueReleaseOnWaitpoint holds the queue's release-on-waitpoint flag.
	QueueReleaseOnWaitpoint(env Env, queue string) string
}

// Compile-time interface check.
var _ Producer = (*Default)(nil)

// Default is the prefix-based Producer.
type Default struct {
	prefix string
}

// New returns a Default producer using prefix. An empty prefix selects
// DefaultPrefix.
func New(prefix string) *Default {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Default{prefix: prefix}
}

// Prefix returns the prefix shared by every key.
func (d *Default) Prefix() string { return d.prefix }

// ── Batch keys ──

func (d *Default) batchKey(batchID, suffix string) string {
	return d.prefix + "batch:" + batchID + ":" + suffix
}

// MasterQueue returns runqueue:batch:master.
func (d *Default) MasterQueue() string { return d.prefix + "batch:master" }

// MasterQueueMember returns {envID}:{batchID}.
func (d *Default) MasterQueueMember(envID, batchID string) string {
	return envID + memberSep + batchID
}

// ParseMasterQueueMember splits on the last separator, so environment
// identifiers may themselves contain colons.
func (d *Default) ParseMasterQueueMember(member string) (envID, batchID string, ok bool) {
	i := strings.LastIndex(member, memberSep)
	if i <= 0 || i == len(member)-1 {
		return "", "", false
	}
	return member[:i], member[i+1:], true
}

// DeficitTable returns runqueue:batch:deficits.
func (d *Default) DeficitTable() string { return d.prefix + "batch:deficits" }

// EnvBatchCounts returns runqueue:batch:env_batches.
func (d *Default) EnvBatchCounts() string { return d.prefix + "batch:env_batches" }

// BatchQueue returns runqueue:batch:{id}:queue.
func (d *Default) BatchQueue(batchID string) string { return d.batchKey(batchID, "queue") }

// BatchItems returns runqueue:batch:{id}:items.
func (d *Default) BatchItems(batchID string) string { return d.batchKey(batchID, "items") }

// BatchMeta returns runqueue:batch:{id}:meta.
func (d *Default) BatchMeta(batchID string) string { return d.batchKey(batchID, "meta") }

// BatchProcessed returns runqueue:batch:{id}:processed.
func (d *Default) BatchProcessed(batchID string) string { return d.batchKey(batchID, "processed") }

// BatchRuns returns runqueue:batch:{id}:runs.
func (d *Default) BatchRuns(batchID string) string { return d.batchKey(batchID, "runs") }

// BatchFailures returns runqueue:batch:{id}:failures.
func (d *Default) BatchFailures(batchID string) string { return d.batchKey(batchID, "failures") }

// BatchRecorded returns runqueue:batch:{id}:recorded.
func (d *Default) BatchRecorded(batchID string) string { return d.batchKey(batchID, "recorded") }

// ── Concurrency keys ──

func (d *Default) envKey(env Env) string {
	return d.prefix + "org:" + env.OrgID + ":proj:" + env.ProjectID + ":env:" + env.EnvID
}

func (d *Default) queueKey(env Env, queue, concurrencyKey string) string {
	k := d.envKey(env) + ":queue:" + queue
	if concurrencyKey != "" {
		k += ":ck:" + concurrencyKey
	}
	return k
}

// EnvCurrentConcurrency returns the set of runs holding an environment slot.
func (d *Default) EnvCurrentConcurrency(env Env) string {
	return d.envKey(env) + ":concurrency"
}

// EnvReserveConcurrency returns the set of runs holding an environment
// reservation.
func (d *Default) EnvReserveConcurrency(env Env) string {
	return d.envKey(env) + ":reserve_concurrency"
}

// EnvConcurrencyLimit returns the key holding the environment limit.
func (d *Default) EnvConcurrencyLimit(env Env) string {
	return d.envKey(env) + ":concurrency_limit"
}

// QueueCurrentConcurrency returns the set of runs holding a queue slot.
func (d *Default) QueueCurrentConcurrency(env Env, queue, concurrencyKey string) string {
	return d.queueKey(env, queue, concurrencyKey) + ":concurrency"
}

// QueueReserveConcurrency returns the set of runs holding a queue
// reservation.
func (d *Default) QueueReserveConcurrency(env Env, queue, concurrencyKey string) string {
	return d.queueKey(env, queue, concurrencyKey) + ":reserve_concurrency"
}

// QueueConcurrencyLimit returns the key holding the queue limit. The limit
// is shared by every concurrency key partition of the queue.
func (d *Default) QueueConcurrencyLimit(env Env, queue string) string {
	return d.queueKey(env, queue, "") + ":concurrency_limit"
}

// QueueReleaseOnWaitpoint returns the key flagging a queue whose slots are
// released when its runs suspend.
func (d *Default) QueueReleaseOnWaitpoint(env Env, queue string) string {
	return d.queueKey(env, queue, "") + ":release_on_waitpoint"
}
