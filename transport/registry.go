package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/mcp-relay/logging"
)

// ConnectionHandler is invoked once for every new server transceiver.
type ConnectionHandler func(t *ServerTransceiver)

// Registry demultiplexes raw socket callbacks onto server transceivers.
// There is exactly one transceiver per registered socket. Callbacks for
// different sockets may run concurrently; callbacks for one socket must be
// delivered in order by the caller.
type Registry struct {
	mu      sync.RWMutex
	entries map[Socket]*ServerTransceiver
	live    map[Identity]struct{}
	handler ConnectionHandler

	identity  func(Socket) Identity
	validator Validator
	allow     func(ctx context.Context, key string) bool
	logger    logging.Logger
	metrics   *Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdentityFunc sets how the identity of a new socket is derived.
func WithIdentityFunc(fn func(Socket) Identity) RegistryOption {
	return func(r *Registry) {
		r.identity = fn
	}
}

// WithValidator replaces the frame validator. A nil validator disables
// validation.
func WithValidator(v Validator) RegistryOption {
	return func(r *Registry) {
		r.validator = v
	}
}

// WithLogger sets the logger for registry and transceiver events.
func WithLogger(l logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the instruments for registry and transceiver events.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithFrameRateLimit limits inbound frames per connection to rate per
// second with the given burst. Frames over the limit are dropped.
func WithFrameRateLimit(rate, burst int) RegistryOption {
	return func(r *Registry) {
		limiter := ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    burst,
			Interval: time.Second,
		})
		r.allow = limiter.Allow
	}
}

// NewRegistry creates a registry validating frames against the MCP message
// schema.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:   make(map[Socket]*ServerTransceiver),
		live:      make(map[Identity]struct{}),
		identity:  socketIdentity,
		validator: DefaultValidator(),
		logger:    logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// socketIdentity uses the identity carried by the socket, if any, and
// generates the missing parts.
func socketIdentity(s Socket) Identity {
	var id Identity
	if ident, ok := s.(interface{ Identity() Identity }); ok {
		id = ident.Identity()
	}
	generated := NewIdentity(id.SessionID)
	if id.ConnectionID == "" {
		id.ConnectionID = generated.ConnectionID
	}
	id.SessionID = generated.SessionID
	return id
}

// HandleConnection registers the handler invoked for each new transceiver.
func (r *Registry) HandleConnection(fn ConnectionHandler) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

// RegisterOpen binds a new transceiver to sock and passes it to the
// connection handler. Registering the same socket again returns the
// existing transceiver. Identities are unique among live transceivers: a
// socket asking for the identity of a live one gets a generated
// connection id.
func (r *Registry) RegisterOpen(sock Socket) *ServerTransceiver {
	r.mu.Lock()
	if t, ok := r.entries[sock]; ok {
		r.mu.Unlock()
		return t
	}
	id := r.identity(sock)
	requested := id.ConnectionID
	for {
		if _, taken := r.live[id]; !taken {
			break
		}
		id.ConnectionID = NewIdentity(id.SessionID).ConnectionID
	}
	t := newServerTransceiver(id, sock, r)
	r.entries[sock] = t
	r.live[id] = struct{}{}
	handler := r.handler
	r.mu.Unlock()

	if id.ConnectionID != requested {
		r.logger.Warn("connection id already in use", t.fields(logging.F("requested_connection_id", requested))...)
	}
	r.metrics.connectionOpened(context.Background(), sideServer)
	r.logger.Debug("connection registered", t.fields()...)

	if handler != nil {
		handler(t)
	}
	return t
}

// RegisterMessage routes a frame received on sock to its transceiver.
func (r *Registry) RegisterMessage(sock Socket, frame string) error {
	t, ok := r.Lookup(sock)
	if !ok {
		r.logger.Error("message for unregistered socket")
		return fmt.Errorf("%w: message callback", ErrUnregisteredSocket)
	}
	t.handleMessage(frame)
	return nil
}

// RegisterError routes a socket error to its transceiver.
func (r *Registry) RegisterError(sock Socket, err error) error {
	t, ok := r.Lookup(sock)
	if !ok {
		r.logger.Error("error for unregistered socket", logging.F("error", fmt.Sprint(err)))
		return fmt.Errorf("%w: error callback: %v", ErrUnregisteredSocket, err)
	}
	t.handleError(err)
	return nil
}

// RegisterClose removes sock and closes its transceiver. Closing an
// unknown socket is a no-op since concurrent teardown may close twice.
func (r *Registry) RegisterClose(sock Socket) {
	r.mu.Lock()
	t, ok := r.entries[sock]
	if ok {
		delete(r.entries, sock)
		delete(r.live, t.identity)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.metrics.connectionClosed(context.Background(), sideServer)
	r.logger.Debug("connection closed", t.fields()...)
	t.terminate()
}

// Lookup returns the transceiver bound to sock.
func (r *Registry) Lookup(sock Socket) (*ServerTransceiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[sock]
	return t, ok
}

// Len returns the number of registered sockets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
