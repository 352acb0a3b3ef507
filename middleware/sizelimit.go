package middleware

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// Common size limit presets.
const (
	KB = 1024
	MB = 1024 * 1024
)

// SizeLimit returns middleware that rejects requests whose params exceed
// maxBytes with an invalid request error.
func SizeLimit(maxBytes int64, logger logging.Logger) Middleware {
	logger = logging.OrNop(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if size := int64(len(req.Params)); size > maxBytes {
				logger.Warn("request size limit exceeded", append(requestFields(ctx, req),
					logging.F("size", size),
					logging.F("max", maxBytes),
				)...)
				return nil, protocol.NewInvalidRequest(fmt.Sprintf("params size %d exceeds limit of %d bytes", size, maxBytes))
			}
			return next(ctx, req)
		}
	}
}
