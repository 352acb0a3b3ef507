package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/middleware"
	"github.com/felixgeelhaar/mcp-relay/protocol"
	"github.com/felixgeelhaar/mcp-relay/transport"
)

// NotificationFunc handles an inbound notification. Notifications are
// handled in arrival order on the channel's read path and must not block.
type NotificationFunc func(ctx context.Context, method string, params json.RawMessage)

// Peer speaks JSON-RPC 2.0 over one Transceiver. It dispatches inbound
// requests and notifications to registered handlers and correlates
// responses with outbound calls.
type Peer struct {
	t       transport.Transceiver
	logger  logging.Logger
	timeout time.Duration

	mu            sync.RWMutex
	handlers      map[string]middleware.HandlerFunc
	notifications map[string]NotificationFunc
	stack         middleware.Stack

	pendingMu sync.Mutex
	pending   map[protocol.ID]chan *protocol.Message

	done     chan struct{}
	doneOnce sync.Once
	unsub    []func()
}

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithPeerLogger sets the logger for peer events.
func WithPeerLogger(l logging.Logger) PeerOption {
	return func(p *Peer) {
		p.logger = logging.OrNop(l)
	}
}

// WithCallTimeout bounds every outbound call. Zero, the default, leaves
// calls bounded only by their context.
func WithCallTimeout(d time.Duration) PeerOption {
	return func(p *Peer) {
		p.timeout = d
	}
}

// NewPeer binds a peer to t.
func NewPeer(t transport.Transceiver, opts ...PeerOption) *Peer {
	p := &Peer{
		t:             t,
		logger:        logging.NopLogger{},
		handlers:      make(map[string]middleware.HandlerFunc),
		notifications: make(map[string]NotificationFunc),
		pending:       make(map[protocol.ID]chan *protocol.Message),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.unsub = []func(){
		t.OnMessage(p.handleFrame),
		t.OnClose(p.shutdown),
	}
	if t.Closed() {
		p.shutdown()
	}
	return p
}

// Transceiver returns the channel the peer runs on.
func (p *Peer) Transceiver() transport.Transceiver {
	return p.t
}

// Handle registers h for requests to method.
func (p *Peer) Handle(method string, h middleware.HandlerFunc) {
	p.mu.Lock()
	p.handlers[method] = h
	p.mu.Unlock()
}

// HandleNotification registers fn for notifications of method.
func (p *Peer) HandleNotification(method string, fn NotificationFunc) {
	p.mu.Lock()
	p.notifications[method] = fn
	p.mu.Unlock()
}

// Use appends middleware applied to every request handler.
func (p *Peer) Use(m ...middleware.Middleware) {
	p.stack.Use(m...)
}

// Call sends a request and waits for its response. A JSON-RPC error
// response is returned as a *protocol.Error. When result is non-nil the
// response result is decoded into it.
func (p *Peer) Call(ctx context.Context, method string, params, result any) error {
	select {
	case <-p.done:
		return transport.ErrClosed
	default:
	}

	raw, err := encodeParams(params)
	if err != nil {
		return err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	id := protocol.NewRandomID()
	ch := make(chan *protocol.Message, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	req := protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id.Raw(),
		Method:  method,
		Params:  raw,
	}
	if err := p.t.SendJSON(ctx, req); err != nil {
		return fmt.Errorf("rpc: send %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, result); err != nil {
				return fmt.Errorf("rpc: decode %s result: %w", method, err)
			}
		}
		return nil
	case <-p.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification.
func (p *Peer) Notify(ctx context.Context, method string, params any) error {
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	return p.t.SendJSON(ctx, protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  method,
		Params:  raw,
	})
}

// Close closes the peer and its transceiver. Pending calls fail with
// transport.ErrClosed.
func (p *Peer) Close() {
	p.shutdown()
	for _, fn := range p.unsub {
		fn()
	}
	p.t.Close()
}

// Done is closed when the peer shuts down.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) shutdown() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params: %w", err)
	}
	return raw, nil
}

func (p *Peer) context() context.Context {
	return protocol.ContextWithOrigin(context.Background(), p.t.Identity().Origin())
}

func (p *Peer) fields(extra ...logging.Field) []logging.Field {
	id := p.t.Identity()
	return append([]logging.Field{
		logging.F("session_id", id.SessionID),
		logging.F("connection_id", id.ConnectionID),
	}, extra...)
}

// handleFrame processes one delivered frame: a single message or a batch.
func (p *Peer) handleFrame(frame string) {
	data := bytes.TrimSpace([]byte(frame))
	if len(data) > 0 && data[0] == '[' {
		p.handleBatch(data)
		return
	}

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		p.reject(err)
		return
	}
	if msg.IsRequest() {
		req := msg.Request()
		go func() { p.reply(p.serve(req)) }()
		return
	}
	p.route(msg)
}

// handleBatch answers the requests of a batch with one array of responses
// once all of them are done.
func (p *Peer) handleBatch(data []byte) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		p.reject(protocol.NewParseError(err.Error()))
		return
	}
	if len(items) == 0 {
		p.reject(protocol.NewInvalidRequest("empty batch"))
		return
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		responses []*protocol.Response
	)
	collect := func(resp *protocol.Response) {
		mu.Lock()
		responses = append(responses, resp)
		mu.Unlock()
	}

	for _, item := range items {
		msg, err := protocol.ParseMessage(item)
		if err != nil {
			collect(errorResponse(nil, err))
			continue
		}
		if msg.IsRequest() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				collect(p.serve(msg.Request()))
			}()
			continue
		}
		p.route(msg)
	}

	go func() {
		wg.Wait()
		if len(responses) == 0 {
			return
		}
		if err := p.t.SendJSON(context.Background(), responses); err != nil {
			p.logger.Debug("batch reply failed", p.fields(logging.F("error", err.Error()))...)
		}
	}()
}

// route handles a response or a notification.
func (p *Peer) route(msg *protocol.Message) {
	switch {
	case msg.IsResponse():
		p.resolve(msg)
	case msg.IsNotification():
		p.notify(msg)
	}
}

func (p *Peer) resolve(msg *protocol.Message) {
	id, err := protocol.ParseID(msg.ID)
	if err != nil || id.IsZero() {
		p.logger.Debug("response without usable id", p.fields()...)
		return
	}

	p.pendingMu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.pendingMu.Unlock()

	if !ok {
		p.logger.Debug("response for unknown call", p.fields(logging.F("id", id.String()))...)
		return
	}
	ch <- msg
}

func (p *Peer) notify(msg *protocol.Message) {
	p.mu.RLock()
	fn, ok := p.notifications[msg.Method]
	p.mu.RUnlock()

	if !ok {
		p.logger.Debug("unhandled notification", p.fields(logging.F("method", msg.Method))...)
		return
	}
	fn(p.context(), msg.Method, msg.Params)
}

// serve runs the handler chain for req and builds the response.
func (p *Peer) serve(req *protocol.Request) *protocol.Response {
	p.mu.RLock()
	h, ok := p.handlers[req.Method]
	p.mu.RUnlock()
	if !ok {
		h = middleware.MethodNotFound
	}

	origin := middleware.WithOrigin(p.t.Identity().Origin())
	resp, err := origin(p.stack.Then(h))(context.Background(), req)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if resp == nil {
		resp = protocol.NewResponse(req.ID, struct{}{})
	}
	resp.ID = req.ID
	if resp.Error == nil && resp.Result == nil {
		resp.Result = struct{}{}
	}
	return resp
}

func errorResponse(id json.RawMessage, err error) *protocol.Response {
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) {
		rpcErr = protocol.NewInternalError(err.Error())
	}
	return protocol.NewErrorResponse(id, rpcErr)
}

// reject answers a frame that could not be parsed. The id of such a frame
// is unknown, so the error carries a fresh one.
func (p *Peer) reject(err error) {
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) {
		rpcErr = protocol.NewParseError(err.Error())
	}
	p.logger.Debug("rejected frame", p.fields(logging.F("code", rpcErr.Code))...)
	p.reply(rpcErr.ToResponse())
}

func (p *Peer) reply(resp *protocol.Response) {
	if err := p.t.SendJSON(context.Background(), resp); err != nil {
		p.logger.Debug("reply failed", p.fields(logging.F("error", err.Error()))...)
	}
}
