// Package batchqueue runs the consumer side of the DRR batch scheduler.
//
// A [Queue] owns a configurable number of consumer loops. Every loop polls
// the store with one Deficit Round Robin iteration per tick and hands each
// dequeued item to the registered [ItemProcessor] through the middleware
// chain. The outcome is recorded in the store, and the consumer whose
// record call brings the processed counter to the batch's run count
// finalizes the batch: it builds the [batch.CompleteResult], invokes the
// completion callback and cleans the batch up.
//
// Expected failures are returned as a result built with [Failed]. A
// returned error or a panic is recorded with the UNEXPECTED_ERROR code, so
// every enqueued item reaches exactly one terminal state.
package batchqueue
