// Package ext defines the extension system for runqueue.
//
// Extensions are notified of batch lifecycle events and can react to
// them — recording metrics, writing audit logs, resuming parent runs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnBatchCompleted(ctx context.Context, m *batch.Meta, r *batch.CompleteResult) error {
//	    log.Printf("batch %s: %d ok, %d failed", m.FriendlyID, r.SuccessfulRunCount, r.FailedRunCount)
//	    return nil
//	}
//
// # Hooks
//
//   - [BatchEnqueued] — a batch was accepted into the master queue
//   - [ItemStarted] — a consumer began processing an item
//   - [ItemSucceeded] — an item's run was recorded
//   - [ItemFailed] — an item's failure was recorded
//   - [BatchCompleted] — every item of a batch reached a terminal state
//   - [Shutdown] — the batch queue is closing
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt processing.
package ext
