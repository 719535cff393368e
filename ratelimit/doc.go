// Package ratelimit throttles item processing inside one batch queue
// process, per task and per environment.
//
// DRR decides which environment's items are dequeued; ratelimit bounds how
// fast and how many of them a process works on at once. Limits are local to
// the process. Cross-process run concurrency belongs to the concurrency
// ledger.
//
// # Configuration
//
//	m := ratelimit.NewManager(
//	    ratelimit.TaskConfig{Task: "send-email", RateLimit: 10, RateBurst: 20},
//	    ratelimit.TaskConfig{Task: "render-video", MaxConcurrency: 2},
//	)
//	m.SetEnvConfig(ratelimit.EnvConfig{EnvID: "env_free_tier", RateLimit: 1})
//
//	q := batchqueue.New(store, batchqueue.WithLimits(m))
//
// Tasks and environments without a config have no limits.
package ratelimit
