package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/mcp-relay/logging"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = time.Second

// Phase is the state of a ReconnectingSocket.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseOpen
	PhaseReconnecting
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReconnectingSocket is a client socket that reopens its physical
// connection whenever it drops, up to a bounded number of attempts.
//
// It never fails synchronously on connection problems: failures surface
// through the error, close and maximum events. Once the attempt budget is
// spent it emits maximum, then close, and drops all listeners.
type ReconnectingSocket struct {
	url         string
	protocols   []string
	maxAttempts int
	delay       time.Duration
	onReconnect func(attempt int)
	dialer      Dialer
	logger      logging.Logger
	metrics     *Metrics

	opens    listeners[struct{}]
	messages listeners[string]
	errs     listeners[error]
	closes   listeners[struct{}]
	maximum  listeners[struct{}]

	mu       sync.Mutex
	phase    Phase
	attempts int
	conn     Conn
	timer    *time.Timer
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
}

// ReconnectOption configures a ReconnectingSocket.
type ReconnectOption func(*ReconnectingSocket)

// WithProtocols sets the subprotocols offered when dialing.
func WithProtocols(protocols ...string) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.protocols = protocols
	}
}

// WithMaxAttempts bounds consecutive reconnect attempts. Zero, the default,
// means unlimited.
func WithMaxAttempts(n int) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.maxAttempts = n
	}
}

// WithReconnectDelay sets the fixed delay before each reconnect attempt.
func WithReconnectDelay(d time.Duration) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.delay = d
	}
}

// WithOnReconnect sets a hook called before each reconnect attempt with the
// attempt number, starting at 1.
func WithOnReconnect(fn func(attempt int)) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.onReconnect = fn
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.dialer = d
	}
}

// WithReconnectLogger sets the logger for connection events.
func WithReconnectLogger(l logging.Logger) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.logger = logging.OrNop(l)
	}
}

// WithReconnectMetrics sets the instruments for connection events.
func WithReconnectMetrics(m *Metrics) ReconnectOption {
	return func(r *ReconnectingSocket) {
		r.metrics = m
	}
}

// NewReconnectingSocket creates the socket and starts connecting to url
// immediately.
func NewReconnectingSocket(url string, opts ...ReconnectOption) *ReconnectingSocket {
	r := newReconnectingSocket(url, opts...)
	r.open()
	return r
}

func newReconnectingSocket(url string, opts ...ReconnectOption) *ReconnectingSocket {
	r := &ReconnectingSocket{
		url:    url,
		delay:  DefaultReconnectDelay,
		dialer: NewWebSocketDialer(),
		logger: logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// URL returns the dialed URL.
func (r *ReconnectingSocket) URL() string {
	return r.url
}

// Phase returns the current state.
func (r *ReconnectingSocket) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Attempts returns the number of reconnect attempts since the last
// successful open.
func (r *ReconnectingSocket) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// OnOpen registers fn for every successful (re)connect.
func (r *ReconnectingSocket) OnOpen(fn func(), opts ...SubscribeOption) func() {
	return r.opens.add(func(struct{}) { fn() }, opts)
}

// OnMessage registers fn for every received text frame.
func (r *ReconnectingSocket) OnMessage(fn func(message string), opts ...SubscribeOption) func() {
	return r.messages.add(fn, opts)
}

// OnError registers fn for transport errors that are not connection
// refusals.
func (r *ReconnectingSocket) OnError(fn func(err error), opts ...SubscribeOption) func() {
	return r.errs.add(fn, opts)
}

// OnClose registers fn for the terminal close.
func (r *ReconnectingSocket) OnClose(fn func(), opts ...SubscribeOption) func() {
	return r.closes.add(func(struct{}) { fn() }, opts)
}

// OnMaximum registers fn for exhaustion of the reconnect budget.
func (r *ReconnectingSocket) OnMaximum(fn func(), opts ...SubscribeOption) func() {
	return r.maximum.add(func(struct{}) { fn() }, opts)
}

// Send writes a text frame on the live connection.
func (r *ReconnectingSocket) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	conn, phase := r.conn, r.phase
	r.mu.Unlock()

	if phase == PhaseClosed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, text)
}

// ReadyState reports the live connection's state. While waiting to
// reconnect the socket reports StateConnecting.
func (r *ReconnectingSocket) ReadyState() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case PhaseOpen:
		if r.conn != nil {
			return r.conn.ReadyState()
		}
		return StateConnecting
	case PhaseClosed:
		return StateClosed
	default:
		return StateConnecting
	}
}

// Close stops reconnecting, cancels any pending attempt and closes the live
// connection. Close subscribers are notified once.
func (r *ReconnectingSocket) Close(code int, reason string) error {
	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		return nil
	}
	r.phase = PhaseClosed
	r.stopTimer()
	r.cancel()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(code, reason)
	}
	r.closes.emit(struct{}{})
	r.clearListeners()
	return err
}

func (r *ReconnectingSocket) open() {
	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		return
	}
	if r.phase != PhaseReconnecting {
		r.phase = PhaseConnecting
	}
	ctx := r.ctx
	r.mu.Unlock()

	go r.dial(ctx)
}

func (r *ReconnectingSocket) dial(ctx context.Context) {
	conn, err := r.dialer.Dial(ctx, r.url, r.protocols)
	if err != nil {
		r.fail(nil, err)
		return
	}

	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		_ = conn.Close(CloseNormal, "")
		return
	}
	r.conn = conn
	r.phase = PhaseOpen
	r.attempts = 0
	r.mu.Unlock()

	r.metrics.connectionOpened(context.Background(), sideClient)
	r.logger.Debug("socket open", logging.F("url", r.url))
	r.opens.emit(struct{}{})

	r.read(conn)
}

func (r *ReconnectingSocket) read(conn Conn) {
	for {
		text, err := conn.ReadMessage()
		if err != nil {
			r.metrics.connectionClosed(context.Background(), sideClient)
			r.fail(conn, err)
			return
		}
		r.messages.emit(text)
	}
}

// fail handles the loss of conn, or a failed dial when conn is nil. A
// failed dial or read is an error event followed by a close event: the
// error is reported unless it is a refusal, and the close reconnects.
func (r *ReconnectingSocket) fail(conn Conn, err error) {
	r.mu.Lock()
	if r.phase == PhaseClosed || (conn != nil && r.conn != conn) {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	r.mu.Unlock()

	r.report(err)
	r.reconnect()
}

// report emits err to error subscribers. Refusals, close frames and
// cancellation are not errors of the connection.
func (r *ReconnectingSocket) report(err error) {
	if isCloseError(err) || IsConnectionRefused(err) || errors.Is(err, context.Canceled) {
		return
	}
	r.metrics.transportError(context.Background(), sideClient)
	r.logger.Warn("socket error", logging.F("url", r.url), logging.F("error", err.Error()))
	r.errs.emit(err)
}

func (r *ReconnectingSocket) reconnect() {
	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		return
	}

	if r.maxAttempts > 0 && r.attempts >= r.maxAttempts {
		r.phase = PhaseClosed
		r.stopTimer()
		r.cancel()
		attempts := r.attempts
		r.mu.Unlock()

		r.metrics.reconnectBudgetExhausted(context.Background())
		r.logger.Warn("reconnect attempts exhausted", logging.F("url", r.url), logging.F("attempts", attempts))
		r.maximum.emit(struct{}{})
		r.closes.emit(struct{}{})
		r.clearListeners()
		return
	}

	r.attempts++
	attempt := r.attempts
	r.phase = PhaseReconnecting
	r.stopTimer()
	gen := r.gen
	r.timer = time.AfterFunc(r.delay, func() { r.retry(gen, attempt) })
	r.mu.Unlock()
}

func (r *ReconnectingSocket) retry(gen uint64, attempt int) {
	r.mu.Lock()
	if r.phase != PhaseReconnecting || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	r.metrics.reconnectAttempt(context.Background())
	r.logger.Info("reconnecting", logging.F("url", r.url), logging.F("attempt", attempt))
	if r.onReconnect != nil {
		r.onReconnect(attempt)
	}
	r.open()
}

// stopTimer cancels a pending reconnect and invalidates a callback that
// already fired. r.mu must be held.
func (r *ReconnectingSocket) stopTimer() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Pending reports whether a reconnect attempt is scheduled.
func (r *ReconnectingSocket) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

func (r *ReconnectingSocket) clearListeners() {
	r.opens.clear()
	r.messages.clear()
	r.errs.clear()
	r.closes.clear()
	r.maximum.clear()
}

func isCloseError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
