package middleware

import (
	"time"

	"github.com/felixgeelhaar/mcp-relay/logging"
)

// DefaultStack returns the middleware every relay peer runs: panic
// recovery, request IDs and logging.
func DefaultStack(logger logging.Logger) []Middleware {
	return []Middleware{
		Recover(WithRecoverLogger(logger)),
		RequestID(),
		Logging(logger),
	}
}

// DefaultStackWithTimeout returns the default stack with a handler deadline.
func DefaultStackWithTimeout(logger logging.Logger, timeout time.Duration) []Middleware {
	return []Middleware{
		Recover(WithRecoverLogger(logger)),
		RequestID(),
		Timeout(timeout),
		Logging(logger),
	}
}
