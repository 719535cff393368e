// Package middleware provides composable middleware for batch item
// processing.
//
// A [Middleware] wraps the item processor. Middleware are composed into a
// chain using [Chain] and applied around every dequeued item. The first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs item start and outcome
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the item context after the item's "timeout" option
//   - [Tracing] — wraps processing in an OpenTelemetry span
//   - [Metrics] — records per-item duration and outcome counters
//   - [Env] — injects the batch's tenant identity into the context
//
// Handlers report expected failures as *batch.ItemError; any other error
// is treated as unexpected.
package middleware
