package batch

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/keys"
)

// ErrorCodeUnexpected is recorded for items whose processor returned an
// error or panicked instead of reporting a failure result.
const ErrorCodeUnexpected = "UNEXPECTED_ERROR"

// MaxFailurePayloadLength bounds the payload copy stored with a failure.
const MaxFailurePayloadLength = 1000

// ItemCost is the DRR cost charged for one dequeued item.
const ItemCost = 1

// Meta describes one batch. It is immutable after enqueue.
type Meta struct {
	BatchID         string `json:"batch_id"`
	FriendlyID      string `json:"friendly_id"`
	EnvironmentID   string `json:"environment_id"`
	EnvironmentType string `json:"environment_type"`
	OrganizationID  string `json:"organization_id"`
	ProjectID       string `json:"project_id"`

	// RunCount is the number of items in the batch.
	RunCount  int       `json:"run_count"`
	CreatedAt time.Time `json:"created_at"`

	ParentRunID              string `json:"parent_run_id,omitempty"`
	ResumeParentOnCompletion bool   `json:"resume_parent_on_completion,omitempty"`

	TriggerVersion string            `json:"trigger_version,omitempty"`
	TraceContext   map[string]string `json:"trace_context,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	PlanType       string            `json:"plan_type,omitempty"`
}

// Env returns the tenant identity of the batch.
func (m *Meta) Env() keys.Env {
	return keys.Env{
		OrgID:     m.OrganizationID,
		ProjectID: m.ProjectID,
		EnvID:     m.EnvironmentID,
	}
}

// Validate checks the fields the scheduler depends on.
func (m *Meta) Validate() error {
	switch {
	case m.BatchID == "":
		return fmt.Errorf("%w: missing batch id", runqueue.ErrInvalidBatch)
	case m.EnvironmentID == "":
		return fmt.Errorf("%w: batch %s: missing environment id", runqueue.ErrInvalidBatch, m.BatchID)
	case m.RunCount <= 0:
		return fmt.Errorf("%w: batch %s: run count must be positive", runqueue.ErrInvalidBatch, m.BatchID)
	}
	return nil
}

// Item is one entry of a batch, addressed by its index.
type Item struct {
	// Task is the identifier of the task to trigger.
	Task string `json:"task"`

	// Payload is the opaque payload handed to the task.
	Payload json.RawMessage `json:"payload,omitempty"`

	// PayloadType is the payload content type (e.g. "application/json").
	PayloadType string `json:"payload_type,omitempty"`

	// Options carries per-item trigger options.
	Options map[string]any `json:"options,omitempty"`
}

// Failure records a terminal item failure.
type Failure struct {
	Index     int            `json:"index"`
	Task      string         `json:"task"`
	Payload   string         `json:"payload,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Error     string         `json:"error"`
	ErrorCode string         `json:"error_code,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CompleteResult is handed to the completion callback exactly once per
// batch.
type CompleteResult struct {
	BatchID            string     `json:"batch_id"`
	RunIDs             []string   `json:"run_ids"`
	SuccessfulRunCount int        `json:"successful_run_count"`
	FailedRunCount     int        `json:"failed_run_count"`
	Failures           []*Failure `json:"failures"`
}

// DequeuedItem is one item popped by a DRR iteration, with enough context
// to process it without another store round trip.
type DequeuedItem struct {
	EnvID     string
	BatchID   string
	ItemIndex int
	Item      *Item
	Meta      *Meta

	// IsBatchComplete reports that the batch queue was empty right after
	// this pop. It says nothing about whether the items were processed.
	IsBatchComplete bool

	// EnvHasMoreBatches reports whether the environment still had pending
	// batches at the end of its DRR visit.
	EnvHasMoreBatches bool
}

// TruncatePayload shortens s to at most MaxFailurePayloadLength bytes
// without splitting a UTF-8 sequence.
func TruncatePayload(s string) string {
	if len(s) <= MaxFailurePayloadLength {
		return s
	}
	cut := MaxFailurePayloadLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
