package transport

import (
	"context"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// ClientTransceiver is the client-side end of a relay channel, backed by a
// ReconnectingSocket. Its identity survives reconnects; it closes when the
// socket reaches its terminal close.
type ClientTransceiver struct {
	channel

	rs      *ReconnectingSocket
	metrics *Metrics
	unsub   []func()
}

// ClientOption configures a ClientTransceiver.
type ClientOption func(*ClientTransceiver)

// WithClientLogger sets the logger for channel events.
func WithClientLogger(l logging.Logger) ClientOption {
	return func(t *ClientTransceiver) {
		t.logger = logging.OrNop(l)
	}
}

// WithClientMetrics sets the instruments for channel events.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(t *ClientTransceiver) {
		t.metrics = m
	}
}

// NewClientTransceiver binds a transceiver with the given identity to rs.
func NewClientTransceiver(id Identity, rs *ReconnectingSocket, opts ...ClientOption) *ClientTransceiver {
	t := &ClientTransceiver{
		channel: channel{
			identity: id,
			sock:     rs,
			logger:   logging.NopLogger{},
		},
		rs: rs,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.unsub = []func(){
		rs.OnMessage(t.handleMessage),
		rs.OnClose(t.terminate),
	}
	return t
}

// Dial creates a ReconnectingSocket for url and binds a client transceiver
// with the given identity to it before the first connection attempt, so no
// frame can arrive unobserved.
func Dial(id Identity, url string, sockOpts []ReconnectOption, opts ...ClientOption) *ClientTransceiver {
	rs := newReconnectingSocket(url, sockOpts...)
	t := NewClientTransceiver(id, rs, opts...)
	rs.open()
	return t
}

// Socket returns the underlying reconnecting socket.
func (t *ClientTransceiver) Socket() *ReconnectingSocket {
	return t.rs
}

// Close closes the channel and stops the socket from reconnecting.
func (t *ClientTransceiver) Close() {
	t.channel.Close()
	for _, fn := range t.unsub {
		fn()
	}
	// A conn already closing is skipped by channel.Close but would still
	// trigger a reconnect.
	_ = t.rs.Close(CloseNormal, "")
}

// handleMessage answers keepalive frames inline, before anything else is
// read from the socket, and delivers every other frame.
func (t *ClientTransceiver) handleMessage(frame string) {
	ctx := context.Background()

	if frame == protocol.Keepalive {
		t.metrics.frameReceived(ctx, sideClient, frameKeepalive)
		if err := t.rs.Send(ctx, protocol.Keepalive); err != nil {
			t.logger.Debug("keepalive echo failed", t.fields(logging.F("error", err.Error()))...)
		}
		return
	}

	t.metrics.frameReceived(ctx, sideClient, frameMessage)
	t.deliver(frame)
}
