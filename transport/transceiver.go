package transport

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// Identity names a logical channel. It is stable for the lifetime of the
// channel, including across reconnects of the physical socket.
type Identity struct {
	SessionID    string
	ConnectionID string
}

// NewIdentity returns an identity for sessionID with a generated
// connection id. An empty sessionID is generated as well.
func NewIdentity(sessionID string) Identity {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return Identity{SessionID: sessionID, ConnectionID: uuid.NewString()}
}

// Origin returns the identity as a protocol origin for request contexts.
func (i Identity) Origin() protocol.Origin {
	return protocol.Origin{SessionID: i.SessionID, ConnectionID: i.ConnectionID}
}

// Transceiver is an identified duplex message channel. Keepalive frames are
// handled internally and never reach message subscribers.
type Transceiver interface {
	// Identity returns the channel identity.
	Identity() Identity

	// Send writes a text frame. It fails with ErrClosed once the channel
	// is closed.
	Send(ctx context.Context, message string) error

	// SendJSON encodes v as JSON and sends it.
	SendJSON(ctx context.Context, v any) error

	// OnMessage registers fn for every delivered frame. The returned
	// function unsubscribes and is safe to call more than once.
	OnMessage(fn func(message string), opts ...SubscribeOption) (unsubscribe func())

	// OnClose registers fn for the terminal close of the channel.
	OnClose(fn func(), opts ...SubscribeOption) (unsubscribe func())

	// Close closes the channel. Subscribers are dropped without being
	// notified. Close is idempotent.
	Close()

	// Closed reports whether the channel is closed.
	Closed() bool
}

// channel is the state shared by the server and client transceivers.
type channel struct {
	identity Identity
	sock     Socket
	logger   logging.Logger

	messages listeners[string]
	closes   listeners[struct{}]
	closed   atomic.Bool
}

func (c *channel) Identity() Identity {
	return c.identity
}

func (c *channel) Send(ctx context.Context, message string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.sock.Send(ctx, message)
}

func (c *channel) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, string(data))
}

func (c *channel) OnMessage(fn func(message string), opts ...SubscribeOption) func() {
	if c.closed.Load() {
		return func() {}
	}
	return c.messages.add(fn, opts)
}

func (c *channel) OnClose(fn func(), opts ...SubscribeOption) func() {
	if c.closed.Load() {
		return func() {}
	}
	return c.closes.add(func(struct{}) { fn() }, opts)
}

func (c *channel) Closed() bool {
	return c.closed.Load()
}

func (c *channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.messages.clear()
	c.closes.clear()

	switch c.sock.ReadyState() {
	case StateConnecting, StateOpen:
		if err := c.sock.Close(CloseNormal, ""); err != nil {
			c.logger.Debug("socket close failed", c.fields(logging.F("error", err.Error()))...)
		}
	}
}

// deliver hands a frame to message subscribers.
func (c *channel) deliver(message string) {
	if c.closed.Load() {
		return
	}
	c.messages.emit(message)
}

// terminate marks the channel closed by the remote side and notifies close
// subscribers once.
func (c *channel) terminate() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.messages.clear()
	c.closes.emit(struct{}{})
	c.closes.clear()
}

func (c *channel) fields(extra ...logging.Field) []logging.Field {
	return append([]logging.Field{
		logging.F("session_id", c.identity.SessionID),
		logging.F("connection_id", c.identity.ConnectionID),
	}, extra...)
}
