package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionBatchEnqueued  = "batch.enqueued"
	ActionItemStarted    = "item.started"
	ActionItemSucceeded  = "item.succeeded"
	ActionItemFailed     = "item.failed"
	ActionBatchCompleted = "batch.completed"
)

// Audit event categories group related actions.
const (
	CategoryBatch = "runqueue.batch"
	CategoryItem  = "runqueue.item"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceBatch = "batch"
	ResourceItem  = "batch_item"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionBatchEnqueued,
		ActionItemStarted,
		ActionItemSucceeded,
		ActionItemFailed,
		ActionBatchCompleted,
	}
}
