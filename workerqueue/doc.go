// Package workerqueue resolves the physical worker queue a dispatched run
// is delivered to.
//
// A [Resolver] applies an optional override map to each [Message]. The
// first matching rule wins:
//
//  1. environmentId override
//  2. projectId override
//  3. orgId override
//  4. workerQueue override (remaps one queue name to another)
//  5. the message's own workerQueue
//
// Version 1 messages predate the resolved workerQueue field: development
// environments route to their own environment ID and every other
// environment to the first master queue.
//
// Overrides come from [WithOverrides], from raw JSON via [WithRawOverrides]
// or from the RUNQUEUE_WORKER_QUEUE_OVERRIDES environment variable, in that
// order of precedence. Raw JSON is validated against a JSON schema; invalid
// configuration is logged and routing degrades to passthrough. A [Watcher]
// reloads the overrides from a file whenever it changes.
package workerqueue
