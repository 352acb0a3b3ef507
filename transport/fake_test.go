package transport_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/felixgeelhaar/mcp-relay/transport"
)

var (
	errConnDropped = errors.New("connection dropped")
	errRefused     = fmt.Errorf("dial tcp 127.0.0.1:1: %w", syscall.ECONNREFUSED)
)

// fakeSocket is an in-memory Socket for registry tests.
type fakeSocket struct {
	mu       sync.Mutex
	state    transport.ReadyState
	sent     []string
	closes   []int
	identity transport.Identity
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{state: transport.StateOpen}
}

func (s *fakeSocket) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transport.StateOpen {
		return transport.ErrClosed
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSocket) Close(code int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, code)
	s.state = transport.StateClosed
	return nil
}

func (s *fakeSocket) ReadyState() transport.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSocket) setState(state transport.ReadyState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *fakeSocket) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSocket) Closes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.closes...)
}

// identifiedSocket carries its own identity, like an accepted WebSocket.
type identifiedSocket struct {
	*fakeSocket
}

func (s identifiedSocket) Identity() transport.Identity {
	return s.identity
}

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// ReadMessage; drop makes ReadMessage fail.
type fakeConn struct {
	frames chan string
	done   chan struct{}
	err    error

	mu     sync.Mutex
	sent   []string
	closed bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) deliver(frame string) {
	c.frames <- frame
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return "", c.err
	}
}

func (c *fakeConn) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) Close(int, string) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drop(errConnDropped)
	return nil
}

func (c *fakeConn) ReadyState() transport.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.StateClosed
	}
	return transport.StateOpen
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// fakeDialer hands out scripted dial results in order. Once the script is
// used up every dial is refused.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(context.Context, string, []string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errRefused
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
