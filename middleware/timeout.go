package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// Timeout returns middleware that gives each handler a deadline of d. A
// handler that fails because the deadline passed is answered with a
// gateway error.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next(ctx, req)
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, protocol.NewGatewayError("request timed out", map[string]any{
					"method":  req.Method,
					"timeout": d.String(),
				})
			}
			return resp, err
		}
	}
}
