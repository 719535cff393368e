// Package concurrency implements the concurrency ledger: per environment
// and per queue, the set of runs occupying a slot ("current") and the set
// of suspended runs holding a reserved slot ("reserve").
//
// The [Store] contract exposes slot-level operations, each atomic with
// respect to concurrent callers on the same scope. [Ledger] layers the
// run-level policy on top:
//
//	l := concurrency.NewLedger(store)
//	_ = l.Configure(ctx, env, concurrency.QueueConfig{Name: "emails", ConcurrencyLimit: ptr(10)})
//
//	ok, err := l.Acquire(ctx, run)     // queue + env, all or nothing
//	_ = l.Suspend(ctx, run, false)     // env slot moves to reserve
//	_ = l.Resume(ctx, run)             // reserved slots re-admitted
//	_ = l.Release(ctx, run)            // run finished
//
// A limit that was never set is unbounded. Re-admission from the reserve
// ignores the limit, so a resumed run always gets its slot back ahead of
// newly queued work even after the limit was lowered.
package concurrency
