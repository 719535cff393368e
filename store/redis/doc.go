// Package redis implements store.Store on Redis with go-redis.
//
// Batches are laid out under a key prefix (see package keys): the master
// queue is a Sorted Set of "{envID}:{batchID}" members scored by enqueue
// time, each batch owns a Sorted Set of item indices, a Hash of encoded
// items and an encoded meta String. Concurrency ledgers are Sets.
//
// Every mutation that touches more than one key runs as a single Lua
// script or a single MULTI/EXEC transaction, so any number of consumer
// processes can share one Redis. The scripts address many keys at once,
// so Redis Cluster is not supported.
//
// The caller owns a client passed to New; Open builds a client the store
// owns and closes:
//
//	s, err := redis.Open(ctx, "redis://localhost:6379/0")
//	if err != nil { ... }
//	defer s.Close()
package redis
