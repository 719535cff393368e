// Package audithook is a runqueue extension that bridges batch lifecycle
// events to an immutable audit trail backend.
//
// Every batch and item lifecycle hook emits a structured audit event through
// the [Recorder] interface. The extension assigns severity levels (info for
// normal operations, warning for recorded item failures and partially
// failed batches, critical for batches where every item failed) and
// metadata such as environment, task, error code and elapsed time.
//
// # Usage
//
//	q := batchqueue.New(store,
//	    batchqueue.WithExtension(audithook.New(audithook.RecorderFunc(
//	        func(ctx context.Context, evt *audithook.AuditEvent) error {
//	            return auditLog.Write(ctx, evt)
//	        },
//	    ))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionItemFailed,
//	        audithook.ActionBatchCompleted,
//	    ),
//	)
package audithook
