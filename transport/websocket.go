package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// Query parameters read from the upgrade request.
const (
	QuerySessionID    = "session_id"
	QueryConnectionID = "connection_id"
)

// WebSocket accepts relay channels over WebSocket and feeds their socket
// events into a Registry.
type WebSocket struct {
	addr     string
	path     string
	upgrader websocket.Upgrader
	server   *http.Server
	registry *Registry
	logger   logging.Logger
	shutdown *ShutdownManager

	readTimeout  time.Duration
	writeTimeout time.Duration
	keepalive    time.Duration

	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketReadTimeout sets how long a connection may stay silent
// before it is considered dead.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.readTimeout = d
	}
}

// WithWebSocketWriteTimeout sets the write timeout for WebSocket messages.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.writeTimeout = d
	}
}

// WithWebSocketCheckOrigin sets the origin check function for WebSocket upgrades.
func WithWebSocketCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(ws *WebSocket) {
		ws.upgrader.CheckOrigin = fn
	}
}

// WithWebSocketKeepalive sets the interval of keepalive frames sent to
// peers. Zero disables them.
func WithWebSocketKeepalive(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.keepalive = d
	}
}

// WithWebSocketPath sets the path served by Serve.
func WithWebSocketPath(path string) WebSocketOption {
	return func(ws *WebSocket) {
		ws.path = path
	}
}

// WithWebSocketLogger sets the logger for connection events.
func WithWebSocketLogger(l logging.Logger) WebSocketOption {
	return func(ws *WebSocket) {
		ws.logger = logging.OrNop(l)
	}
}

// NewWebSocket creates a new WebSocket transport feeding registry.
func NewWebSocket(addr string, registry *Registry, opts ...WebSocketOption) *WebSocket {
	ws := &WebSocket{
		addr: addr,
		path: "/",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins by default
		},
		registry:     registry,
		logger:       logging.NopLogger{},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		keepalive:    20 * time.Second,
		conns:        make(map[*wsConn]struct{}),
	}

	for _, opt := range opts {
		opt(ws)
	}
	if ws.shutdown == nil {
		ws.shutdown = NewShutdownManager(DefaultShutdownConfig())
	}

	return ws
}

// Addr returns the transport address.
func (ws *WebSocket) Addr() string {
	return ws.addr
}

// Registry returns the registry fed by the transport.
func (ws *WebSocket) Registry() *Registry {
	return ws.registry
}

// Serve starts the WebSocket server, blocking until ctx is canceled or the
// listener fails.
func (ws *WebSocket) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(ws.path, ws)

	ws.server = &http.Server{
		Addr:    ws.addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		drainErr := ws.Shutdown(context.Background())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ws.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return drainErr
	case err := <-errChan:
		return err
	}
}

// Shutdown refuses new upgrades, closes open connections and waits for them
// to drain.
func (ws *WebSocket) Shutdown(ctx context.Context) error {
	return ws.shutdown.Shutdown(ctx, ws.CloseAll)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !ws.shutdown.TrackConnection() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer ws.shutdown.ReleaseConnection()

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Debug("websocket upgrade failed", logging.F("error", err.Error()))
		return
	}

	query := r.URL.Query()
	c := newWSConn(conn, ws.writeTimeout)
	c.identity = Identity{
		SessionID:    query.Get(QuerySessionID),
		ConnectionID: query.Get(QueryConnectionID),
	}

	ws.mu.Lock()
	ws.conns[c] = struct{}{}
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		delete(ws.conns, c)
		ws.mu.Unlock()
		c.markClosed()
		_ = conn.Close()
	}()

	ws.registry.RegisterOpen(c)

	done := make(chan struct{})
	defer close(done)
	if ws.keepalive > 0 {
		go ws.ping(c, done)
	}

	for {
		if ws.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
		}

		text, err := c.ReadMessage()
		if err != nil {
			if !isCloseError(err) && !c.local.Load() {
				if regErr := ws.registry.RegisterError(c, err); regErr != nil {
					ws.logger.Error("socket wiring failure", logging.F("error", regErr.Error()))
				}
			}
			ws.registry.RegisterClose(c)
			return
		}

		if err := ws.registry.RegisterMessage(c, text); err != nil {
			ws.logger.Error("socket wiring failure", logging.F("error", err.Error()))
			_ = c.Close(websocket.CloseInternalServerErr, "")
			return
		}
	}
}

func (ws *WebSocket) ping(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(ws.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Send(context.Background(), protocol.Keepalive); err != nil {
				return
			}
		}
	}
}

// CloseAll closes every open connection.
func (ws *WebSocket) CloseAll() {
	ws.mu.RLock()
	conns := make([]*wsConn, 0, len(ws.conns))
	for c := range ws.conns {
		conns = append(conns, c)
	}
	ws.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close(CloseGoingAway, "server shutting down")
	}
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	conn         *websocket.Conn
	identity     Identity
	writeTimeout time.Duration

	mu    sync.Mutex
	state atomic.Int32
	local atomic.Bool // closed by this side
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{conn: conn, writeTimeout: writeTimeout}
	c.state.Store(int32(StateOpen))
	return c
}

func (c *wsConn) Identity() Identity {
	return c.identity
}

func (c *wsConn) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}

func (c *wsConn) markClosed() {
	c.state.Store(int32(StateClosed))
}

// ReadMessage returns the next text frame. Binary frames are skipped.
func (c *wsConn) ReadMessage() (string, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ReadyState() == StateOpen {
				c.markClosed()
			}
			return "", err
		}
		if typ == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *wsConn) Send(ctx context.Context, text string) error {
	if c.ReadyState() != StateOpen {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) Close(code int, reason string) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return nil
	}
	c.local.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	err := c.conn.Close()
	c.markClosed()
	return err
}

// WebSocketDialer dials client connections with gorilla/websocket.
type WebSocketDialer struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
}

// NewWebSocketDialer returns a dialer based on websocket.DefaultDialer.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
	}
}

// Dial opens a WebSocket connection to url offering protocols.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	base := d.Dialer
	if base == nil {
		base = websocket.DefaultDialer
	}
	dialer := *base
	if len(protocols) > 0 {
		dialer.Subprotocols = protocols
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return newWSConn(conn, d.WriteTimeout), nil
}
