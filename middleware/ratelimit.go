package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// RateLimitOption configures the rate limiter.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	keyFunc func(context.Context, *protocol.Request) string
	logger  logging.Logger
}

// WithRateLimitKeyFunc sets how the rate limit key of a request is derived.
func WithRateLimitKeyFunc(fn func(context.Context, *protocol.Request) string) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.keyFunc = fn
	}
}

// WithRateLimitLogger sets the logger for rate limit events.
func WithRateLimitLogger(l logging.Logger) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.logger = logging.OrNop(l)
	}
}

// ConnectionKey keys requests by the connection they arrived on.
func ConnectionKey(ctx context.Context, _ *protocol.Request) string {
	if origin, ok := protocol.OriginFromContext(ctx); ok {
		return origin.ConnectionID
	}
	return "global"
}

// SessionKey keys requests by session.
func SessionKey(ctx context.Context, _ *protocol.Request) string {
	if origin, ok := protocol.OriginFromContext(ctx); ok {
		return origin.SessionID
	}
	return "global"
}

// MethodKey keys requests by method.
func MethodKey(_ context.Context, req *protocol.Request) string {
	return req.Method
}

// RateLimit returns middleware that limits requests to rate per second
// with the given burst, per connection by default. Requests over the limit
// are answered with a gateway error.
func RateLimit(rate int, burst int, opts ...RateLimitOption) Middleware {
	cfg := &rateLimitConfig{
		keyFunc: ConnectionKey,
		logger:  logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := ratelimit.New(&ratelimit.Config{
		Rate:     rate,
		Burst:    burst,
		Interval: time.Second,
	})

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			key := cfg.keyFunc(ctx, req)

			if !limiter.Allow(ctx, key) {
				cfg.logger.Warn("rate limit exceeded", append(requestFields(ctx, req), logging.F("key", key))...)
				return nil, protocol.NewGatewayError("rate limit exceeded", map[string]any{
					"method": req.Method,
				})
			}

			return next(ctx, req)
		}
	}
}
