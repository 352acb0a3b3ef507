package transport

import (
	"context"
	"errors"
	"syscall"
)

// Transport errors.
var (
	// ErrClosed is returned when sending on a closed channel.
	ErrClosed = errors.New("transport: channel closed")

	// ErrNotConnected is returned when a reconnecting socket has no live
	// connection to write to.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrUnregisteredSocket reports a socket callback for a socket the
	// registry never saw open. It indicates broken wiring, not a remote fault.
	ErrUnregisteredSocket = errors.New("transport: socket not registered")
)

// ReadyState is the readiness of a socket.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes used by the relay.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Socket is a duplex text socket.
type Socket interface {
	// Send writes one text frame.
	Send(ctx context.Context, text string) error

	// Close starts the closing handshake with the given code and reason.
	Close(code int, reason string) error

	// ReadyState returns the current readiness of the socket.
	ReadyState() ReadyState
}

// Conn is a physical socket that can be read from. ReadMessage blocks until
// a text frame arrives or the connection fails.
type Conn interface {
	Socket
	ReadMessage() (string, error)
}

// Dialer opens physical connections for a ReconnectingSocket.
type Dialer interface {
	Dial(ctx context.Context, url string, protocols []string) (Conn, error)
}

// DialerFunc is an adapter to allow ordinary functions as dialers.
type DialerFunc func(ctx context.Context, url string, protocols []string) (Conn, error)

// Dial calls f(ctx, url, protocols).
func (f DialerFunc) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	return f(ctx, url, protocols)
}

// IsConnectionRefused reports whether err is a connection refused failure.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
