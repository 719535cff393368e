// Package store defines the aggregate persistence interface.
//
// Each subsystem (batch, concurrency) defines its own store interface. The
// composite [Store] composes them. A single backend need only implement
// Store to satisfy every subsystem's persistence contract.
//
// The composite interface:
//
//	type Store interface {
//	    batch.Store
//	    concurrency.Store
//
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/redis — Redis backend; every multi-key mutation is one Lua
//     script or one MULTI/EXEC transaction
//
// # Usage
//
//	import "github.com/xraph/runqueue/store/redis"
//
//	s, err := redis.Open(ctx, "redis://localhost:6379/0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	q := batchqueue.New(s, batchqueue.WithConsumers(4))
package store
