package middleware

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// PanicHandler is called when a panic is recovered.
type PanicHandler func(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error)

// RecoverOption configures the Recover middleware.
type RecoverOption func(*recoverConfig)

type recoverConfig struct {
	logger  logging.Logger
	handler PanicHandler
}

// WithRecoverLogger logs recovered panics to l.
func WithRecoverLogger(l logging.Logger) RecoverOption {
	return func(c *recoverConfig) {
		c.logger = logging.OrNop(l)
	}
}

// WithPanicHandler replaces the conversion of a panic into a response.
func WithPanicHandler(h PanicHandler) RecoverOption {
	return func(c *recoverConfig) {
		c.handler = h
	}
}

// Recover returns middleware that catches panics in handlers. By default
// the panic becomes an internal error carrying the panic value, so a
// misbehaving handler never takes down the channel's read loop.
func Recover(opts ...RecoverOption) Middleware {
	cfg := &recoverConfig{
		logger:  logging.NopLogger{},
		handler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					cfg.logger.Error("handler panicked", append(requestFields(ctx, req), logging.F("panic", fmt.Sprint(r)))...)
					resp, err = cfg.handler(ctx, req, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func defaultPanicHandler(_ context.Context, _ *protocol.Request, panicVal any) (*protocol.Response, error) {
	return nil, protocol.NewInternalError(fmt.Sprintf("panic: %v", panicVal))
}
