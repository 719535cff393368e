package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.BatchEnqueued  = (*Extension)(nil)
	_ ext.ItemStarted    = (*Extension)(nil)
	_ ext.ItemSucceeded  = (*Extension)(nil)
	_ ext.ItemFailed     = (*Extension)(nil)
	_ ext.BatchCompleted = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

// Extension bridges batch lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Batch lifecycle hooks ───────────────────────────

// OnBatchEnqueued implements ext.BatchEnqueued.
func (e *Extension) OnBatchEnqueued(ctx context.Context, meta *batch.Meta) error {
	return e.record(ctx, ActionBatchEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceBatch, meta.BatchID, CategoryBatch, "",
		"friendly_id", meta.FriendlyID,
		"env_id", meta.EnvironmentID,
		"environment_type", meta.EnvironmentType,
		"run_count", meta.RunCount,
		"parent_run_id", meta.ParentRunID,
	)
}

// OnBatchCompleted implements ext.BatchCompleted.
func (e *Extension) OnBatchCompleted(ctx context.Context, meta *batch.Meta, r *batch.CompleteResult) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch {
	case r.FailedRunCount > 0 && r.SuccessfulRunCount == 0:
		severity, outcome = SeverityCritical, OutcomeFailure
	case r.FailedRunCount > 0:
		severity, outcome = SeverityWarning, OutcomePartial
	}
	return e.record(ctx, ActionBatchCompleted, severity, outcome,
		ResourceBatch, r.BatchID, CategoryBatch, "",
		"friendly_id", meta.FriendlyID,
		"env_id", meta.EnvironmentID,
		"successful_run_count", r.SuccessfulRunCount,
		"failed_run_count", r.FailedRunCount,
		"elapsed_ms", time.Since(meta.CreatedAt).Milliseconds(),
	)
}

// ── Item lifecycle hooks ────────────────────────────

// OnItemStarted implements ext.ItemStarted.
func (e *Extension) OnItemStarted(ctx context.Context, item *batch.DequeuedItem) error {
	return e.record(ctx, ActionItemStarted, SeverityInfo, OutcomeSuccess,
		ResourceItem, itemID(item), CategoryItem, "",
		"env_id", item.EnvID,
		"task", taskOf(item),
	)
}

// OnItemSucceeded implements ext.ItemSucceeded.
func (e *Extension) OnItemSucceeded(ctx context.Context, item *batch.DequeuedItem, runID string, elapsed time.Duration) error {
	return e.record(ctx, ActionItemSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceItem, itemID(item), CategoryItem, "",
		"env_id", item.EnvID,
		"task", taskOf(item),
		"run_id", runID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnItemFailed implements ext.ItemFailed.
func (e *Extension) OnItemFailed(ctx context.Context, item *batch.DequeuedItem, f *batch.Failure) error {
	return e.record(ctx, ActionItemFailed, SeverityWarning, OutcomeFailure,
		ResourceItem, itemID(item), CategoryItem, f.Error,
		"env_id", item.EnvID,
		"task", taskOf(item),
		"error_code", f.ErrorCode,
	)
}

// ── Internal helpers ────────────────────────────────

func itemID(item *batch.DequeuedItem) string {
	return item.BatchID + "/" + strconv.Itoa(item.ItemIndex)
}

func taskOf(item *batch.DequeuedItem) string {
	if item.Item == nil {
		return ""
	}
	return item.Item.Task
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if reason != "" {
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
