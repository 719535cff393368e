// Package batch defines the batch data model and the persistence contract
// of the Deficit Round Robin (DRR) batch scheduler.
//
// A batch is a set of items triggered together and tracked as one unit.
// Enqueueing a batch atomically writes its [Meta], every [Item] keyed by
// index, a per-batch queue of indices and a master queue member for the
// owning environment. Consumers then call [Store.DequeueDRR] repeatedly;
// each call visits the environments present in the master queue, grants
// each a quantum of credit, and pops items (oldest batch first, ascending
// index) while the environment still has credit.
//
// # Completion
//
// Every processed item is recorded with [Store.RecordSuccess] or
// [Store.RecordFailure]. Both atomically increment the batch's processed
// counter and return the new value; the consumer whose call makes the
// counter equal to [Meta.RunCount] is the one that finalizes the batch.
// The IsBatchComplete flag on a [DequeuedItem] only says the batch queue
// was empty right after that pop and must not be used for finalization.
package batch
