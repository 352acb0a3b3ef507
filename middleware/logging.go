package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// Logging returns middleware that logs every request with the channel it
// arrived on. Successful requests are logged at info level, handler errors
// at error level and error responses at warn level.
func Logging(logger logging.Logger) Middleware {
	logger = logging.OrNop(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			fields := append(requestFields(ctx, req), logging.F("duration", time.Since(start)))

			switch {
			case err != nil:
				fields = append(fields, logging.F("error", err.Error()))
				logger.Error("request failed", fields...)
			case resp != nil && resp.Error != nil:
				fields = append(fields, logging.F("code", resp.Error.Code))
				logger.Warn("request answered with error", fields...)
			default:
				logger.Info("request completed", fields...)
			}

			return resp, err
		}
	}
}

// requestFields returns the log fields identifying req.
func requestFields(ctx context.Context, req *protocol.Request) []logging.Field {
	fields := []logging.Field{logging.F("method", req.Method)}
	if len(req.ID) > 0 {
		fields = append(fields, logging.F("id", string(req.ID)))
	}
	if origin, ok := protocol.OriginFromContext(ctx); ok {
		fields = append(fields,
			logging.F("session_id", origin.SessionID),
			logging.F("connection_id", origin.ConnectionID),
		)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, logging.F("request_id", requestID))
	}
	return fields
}
