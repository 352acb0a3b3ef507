package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// ServerTransceiver is the server-side end of an accepted socket. Every
// frame other than the keepalive frame is validated before delivery;
// frames that fail validation are dropped and the channel stays open.
type ServerTransceiver struct {
	channel

	validator Validator
	allow     func(ctx context.Context, key string) bool
	metrics   *Metrics

	lastKeepalive atomic.Int64
}

func newServerTransceiver(id Identity, sock Socket, r *Registry) *ServerTransceiver {
	return &ServerTransceiver{
		channel: channel{
			identity: id,
			sock:     sock,
			logger:   r.logger,
		},
		validator: r.validator,
		allow:     r.allow,
		metrics:   r.metrics,
	}
}

// LastKeepalive returns when the peer last sent a keepalive frame, or the
// zero time if it never did.
func (t *ServerTransceiver) LastKeepalive() time.Time {
	ns := t.lastKeepalive.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *ServerTransceiver) handleMessage(frame string) {
	ctx := context.Background()

	if frame == protocol.Keepalive {
		t.lastKeepalive.Store(time.Now().UnixNano())
		t.metrics.frameReceived(ctx, sideServer, frameKeepalive)
		return
	}

	if t.allow != nil && !t.allow(ctx, t.identity.ConnectionID) {
		t.drop(ctx, dropRateLimit, nil)
		return
	}

	if t.validator != nil {
		if err := t.validator.Validate([]byte(frame)); err != nil {
			reason := dropSchema
			if errors.Is(err, ErrMalformedFrame) {
				reason = dropParse
			}
			t.drop(ctx, reason, err)
			return
		}
	}

	t.metrics.frameReceived(ctx, sideServer, frameMessage)
	t.deliver(frame)
}

func (t *ServerTransceiver) handleError(err error) {
	t.metrics.transportError(context.Background(), sideServer)
	t.logger.Warn("socket error", t.fields(logging.F("error", err.Error()))...)
}

func (t *ServerTransceiver) drop(ctx context.Context, reason string, err error) {
	t.metrics.frameDropped(ctx, sideServer, reason)
	fields := t.fields(logging.F("reason", reason))
	if err != nil {
		fields = append(fields, logging.F("error", err.Error()))
	}
	t.logger.Debug("frame dropped", fields...)
}
