// Package testutil provides in-memory transceivers for testing code built
// on the relay transport without opening sockets.
//
//	client, server := testutil.Pipe("session-1")
//	peer := rpc.NewPeer(server)
//	peer.Handle("tools/list", listTools)
//
//	err := rpc.NewPeer(client).Call(ctx, "tools/list", nil, &result)
package testutil

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/felixgeelhaar/mcp-relay/transport"
)

// Endpoint is one end of an in-memory transceiver pair. Frames sent on one
// end are delivered in order on the other end's own goroutine, like a
// socket read loop. Keepalive frames are passed through untouched.
type Endpoint struct {
	id    transport.Identity
	other *Endpoint
	inbox chan string
	stop  chan struct{}

	messages transport.Listeners[string]
	closes   transport.Listeners[struct{}]
	closed   atomic.Bool
}

var _ transport.Transceiver = (*Endpoint)(nil)

// Pipe returns two connected endpoints of sessionID, identified as
// "client" and "server".
func Pipe(sessionID string) (client, server *Endpoint) {
	client = newEndpoint(transport.Identity{SessionID: sessionID, ConnectionID: "client"})
	server = newEndpoint(transport.Identity{SessionID: sessionID, ConnectionID: "server"})
	client.other, server.other = server, client
	go client.run()
	go server.run()
	return client, server
}

func newEndpoint(id transport.Identity) *Endpoint {
	return &Endpoint{
		id:    id,
		inbox: make(chan string, 64),
		stop:  make(chan struct{}),
	}
}

func (e *Endpoint) run() {
	for {
		select {
		case frame := <-e.inbox:
			if !e.closed.Load() {
				e.messages.Emit(frame)
			}
		case <-e.stop:
			return
		}
	}
}

func (e *Endpoint) Identity() transport.Identity { return e.id }

func (e *Endpoint) Send(_ context.Context, message string) error {
	if e.Closed() || e.other.Closed() {
		return transport.ErrClosed
	}
	e.other.inbox <- message
	return nil
}

func (e *Endpoint) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.Send(ctx, string(data))
}

func (e *Endpoint) OnMessage(fn func(string), opts ...transport.SubscribeOption) func() {
	if e.Closed() {
		return func() {}
	}
	return e.messages.Add(fn, opts...)
}

func (e *Endpoint) OnClose(fn func(), opts ...transport.SubscribeOption) func() {
	if e.Closed() {
		return func() {}
	}
	return e.closes.Add(func(struct{}) { fn() }, opts...)
}

// Close closes this end without notifying its subscribers and closes the
// other end as a remote close.
func (e *Endpoint) Close() {
	if !e.shut() {
		return
	}
	e.closes.Clear()
	e.other.Drop()
}

// Drop closes this end as if the remote side went away: close subscribers
// are notified once.
func (e *Endpoint) Drop() {
	if !e.shut() {
		return
	}
	e.closes.Emit(struct{}{})
	e.closes.Clear()
}

func (e *Endpoint) Closed() bool {
	return e.closed.Load()
}

// Frames returns a channel receiving every frame that arrives at e.
func (e *Endpoint) Frames() <-chan string {
	ch := make(chan string, 64)
	e.OnMessage(func(frame string) { ch <- frame })
	return ch
}

func (e *Endpoint) shut() bool {
	if !e.closed.CompareAndSwap(false, true) {
		return false
	}
	e.messages.Clear()
	close(e.stop)
	return true
}
