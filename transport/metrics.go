package transport

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/felixgeelhaar/mcp-relay/transport"

// Attribute values recorded by Metrics.
const (
	sideServer = "server"
	sideClient = "client"

	frameMessage   = "message"
	frameKeepalive = "keepalive"

	dropParse     = "parse"
	dropSchema    = "schema"
	dropRateLimit = "rate_limit"
)

// Metrics holds the OpenTelemetry instruments for channel events. A nil
// *Metrics records nothing.
type Metrics struct {
	framesReceived     metric.Int64Counter
	framesDropped      metric.Int64Counter
	activeConnections  metric.Int64UpDownCounter
	transportErrors    metric.Int64Counter
	reconnectAttempts  metric.Int64Counter
	reconnectExhausted metric.Int64Counter
}

// NewMetrics creates the instruments on mp. A nil mp uses the global
// meter provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion("1.0.0"))

	var (
		m   Metrics
		err error
	)
	if m.framesReceived, err = meter.Int64Counter(
		"relay.frames.received",
		metric.WithDescription("Frames received on relay channels"),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if m.framesDropped, err = meter.Int64Counter(
		"relay.frames.dropped",
		metric.WithDescription("Inbound frames dropped before delivery"),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if m.activeConnections, err = meter.Int64UpDownCounter(
		"relay.connections.active",
		metric.WithDescription("Open relay channels"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, err
	}
	if m.transportErrors, err = meter.Int64Counter(
		"relay.transport.errors",
		metric.WithDescription("Socket errors reported by the transport"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.reconnectAttempts, err = meter.Int64Counter(
		"relay.reconnect.attempts",
		metric.WithDescription("Reconnect attempts of client sockets"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.reconnectExhausted, err = meter.Int64Counter(
		"relay.reconnect.exhausted",
		metric.WithDescription("Client sockets that used up their reconnect budget"),
		metric.WithUnit("{socket}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func sideAttr(side string) attribute.KeyValue {
	return attribute.String("relay.side", side)
}

func (m *Metrics) frameReceived(ctx context.Context, side, kind string) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1, metric.WithAttributes(
		sideAttr(side),
		attribute.String("relay.frame.kind", kind),
	))
}

func (m *Metrics) frameDropped(ctx context.Context, side, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.Add(ctx, 1, metric.WithAttributes(
		sideAttr(side),
		attribute.String("relay.drop.reason", reason),
	))
}

func (m *Metrics) connectionOpened(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, 1, metric.WithAttributes(sideAttr(side)))
}

func (m *Metrics) connectionClosed(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, -1, metric.WithAttributes(sideAttr(side)))
}

func (m *Metrics) transportError(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.transportErrors.Add(ctx, 1, metric.WithAttributes(sideAttr(side)))
}

func (m *Metrics) reconnectAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnectAttempts.Add(ctx, 1)
}

func (m *Metrics) reconnectBudgetExhausted(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnectExhausted.Add(ctx, 1)
}
