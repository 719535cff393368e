// Package runqueue is the run-dispatch core of a background task
// orchestration platform. It decides which queued unit of work runs next,
// fairly across tenants and exactly once, under per-environment and
// per-queue concurrency limits, and routes each dispatched run to the
// worker pool that should execute it.
//
// runqueue is a library. Pick a store, build a batch queue on top of it,
// register a processing callback and start the consumers:
//
//	s := memory.New()
//	q := batchqueue.New(s,
//	    batchqueue.WithConsumers(4),
//	    batchqueue.WithQuantum(5),
//	)
//	q.OnProcessItem(func(ctx context.Context, req batchqueue.ProcessItemRequest) (batchqueue.ProcessItemResult, error) {
//	    runID, err := triggerRun(ctx, req.Item)
//	    if err != nil {
//	        return batchqueue.Failed(err, "TRIGGER_FAILED"), nil
//	    }
//	    return batchqueue.Succeeded(runID), nil
//	})
//	q.OnBatchComplete(func(ctx context.Context, res *batch.CompleteResult) error { ... })
//	_ = q.Start(ctx)
//
// # Architecture
//
// The engine is split into five core parts, leaf first:
//
//   - keys: pure mapping from tenant/queue/batch identifiers to store keys
//   - concurrency: per-environment and per-queue slot ledger with
//     reservations for suspended runs
//   - batch: the batch data model and the Deficit Round Robin store contract
//   - batchqueue: consumer loops, result recording and exactly-once
//     finalization
//   - workerqueue: resolution of the physical worker pool for a dispatch
//     message
//
// Around the core sit the supporting packages: store (memory and Redis
// backends), ratelimit (process-local task and environment limits),
// middleware and ext (item middleware and lifecycle hooks), observability
// and audit_hook (hook-driven metrics and audit trail) and cmd/runqueue
// (operator CLI).
//
// All cross-consumer coordination happens inside the store (Redis Lua
// scripts and MULTI/EXEC transactions, or a single mutex for the memory
// store). There is no in-process coordinator, so any number of consumer
// processes can share one store.
package runqueue
