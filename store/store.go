// Package store defines the aggregate persistence interface. Each subsystem
// (batch, concurrency) defines its own store interface. The composite Store
// composes them. Backends: Redis and Memory.
package store

import (
	"context"

	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/concurrency"
)

// Store is the aggregate persistence interface.
// A single backend implements both subsystem contracts against one shared
// key space.
type Store interface {
	batch.Store
	concurrency.Store

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases the store connection if the store owns it.
	Close() error
}
