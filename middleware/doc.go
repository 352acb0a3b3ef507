// Package middleware provides middleware for inbound JSON-RPC requests
// handled by an rpc.Peer.
//
// Each middleware wraps the next handler in the chain:
//
//	peer.Use(
//	    middleware.Recover(middleware.WithRecoverLogger(logger)),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	    middleware.RateLimit(50, 100),
//	)
//
// Request contexts carry the protocol.Origin of the channel the request
// arrived on, so logging, tracing and rate limiting can be scoped to a
// session or a connection.
//
// Available middleware:
//
//   - Recover: converts handler panics into internal errors
//   - RequestID: attaches a process-local request ID
//   - Timeout: bounds handler run time
//   - Logging: logs each request with its origin and duration
//   - RateLimit: token bucket limits keyed per connection
//   - SizeLimit: rejects oversized params
//   - OTel: spans and request metrics
package middleware
