package middleware

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// HandlerFunc handles one inbound JSON-RPC request. A returned
// *protocol.Error is sent to the caller as is; any other error becomes an
// internal error.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middleware so that the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// Stack is a growing list of middleware shared by the handlers of one peer.
// It is safe for concurrent use; Then wraps with the middleware registered
// at the time of the call.
type Stack struct {
	mu          sync.RWMutex
	middlewares []Middleware
}

// Use appends middleware to the stack.
func (s *Stack) Use(middlewares ...Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, middlewares...)
	s.mu.Unlock()
}

// Len returns the number of middleware in the stack.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.middlewares)
}

// Then wraps h with a snapshot of the stack.
func (s *Stack) Then(h HandlerFunc) HandlerFunc {
	s.mu.RLock()
	snapshot := make([]Middleware, len(s.middlewares))
	copy(snapshot, s.middlewares)
	s.mu.RUnlock()
	return Chain(snapshot...)(h)
}

// WithOrigin puts origin into the request context, so the middleware and
// handler after it know which relay channel the request came from. An
// origin already in the context is kept.
func WithOrigin(origin protocol.Origin) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if _, ok := protocol.OriginFromContext(ctx); !ok {
				ctx = protocol.ContextWithOrigin(ctx, origin)
			}
			return next(ctx, req)
		}
	}
}

// MethodNotFound answers any request with method_not_found naming the
// requested method.
func MethodNotFound(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
	return nil, protocol.NewMethodNotFound("").WithData(map[string]any{"method": req.Method})
}
