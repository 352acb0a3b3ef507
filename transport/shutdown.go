package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownConfig configures graceful shutdown of the WebSocket transport.
type ShutdownConfig struct {
	// Timeout is the maximum time to wait for open connections to finish
	// closing after they were asked to.
	// Default: 5 seconds
	Timeout time.Duration

	// DrainDelay is the time to keep serving open connections after new
	// upgrades are refused. This allows load balancers to remove the
	// server from the pool.
	// Default: 0 (no delay)
	DrainDelay time.Duration

	// OnShutdownStart is called when shutdown begins.
	OnShutdownStart func()

	// OnDrainStart is called when open connections are asked to close
	// (after DrainDelay).
	OnDrainStart func()

	// OnShutdownComplete is called when shutdown is complete.
	OnShutdownComplete func(err error)
}

// DefaultShutdownConfig returns sensible defaults for shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Timeout:    5 * time.Second,
		DrainDelay: 0,
	}
}

// ShutdownManager coordinates graceful shutdown with connection draining.
type ShutdownManager struct {
	config ShutdownConfig

	draining  atomic.Bool
	open      atomic.Int64
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewShutdownManager creates a new shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	return &ShutdownManager{
		config: config,
		doneCh: make(chan struct{}),
	}
}

// IsDraining returns true once shutdown has begun.
func (sm *ShutdownManager) IsDraining() bool {
	return sm.draining.Load()
}

// OpenConnections returns the number of tracked connections.
func (sm *ShutdownManager) OpenConnections() int64 {
	return sm.open.Load()
}

// TrackConnection counts a new connection.
// Returns false if the server is draining and the connection should be refused.
func (sm *ShutdownManager) TrackConnection() bool {
	if sm.draining.Load() {
		return false
	}
	sm.open.Add(1)
	return true
}

// ReleaseConnection uncounts a closed connection.
func (sm *ShutdownManager) ReleaseConnection() {
	sm.open.Add(-1)
}

// Shutdown refuses new connections, waits DrainDelay, calls closeAll and
// then waits for tracked connections to go away or for the timeout.
func (sm *ShutdownManager) Shutdown(ctx context.Context, closeAll func()) error {
	if sm.config.OnShutdownStart != nil {
		sm.config.OnShutdownStart()
	}
	sm.draining.Store(true)

	if sm.config.DrainDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sm.config.DrainDelay):
		}
	}

	if sm.config.OnDrainStart != nil {
		sm.config.OnDrainStart()
	}
	if closeAll != nil {
		closeAll()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, sm.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var shutdownErr error
wait:
	for sm.open.Load() > 0 {
		select {
		case <-timeoutCtx.Done():
			shutdownErr = timeoutCtx.Err()
			break wait
		case <-ticker.C:
		}
	}

	sm.closeOnce.Do(func() {
		close(sm.doneCh)
	})

	if sm.config.OnShutdownComplete != nil {
		sm.config.OnShutdownComplete(shutdownErr)
	}

	return shutdownErr
}

// Done returns a channel that is closed when shutdown is complete.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.doneCh
}

// WithWebSocketShutdown sets the graceful shutdown behavior of Serve.
func WithWebSocketShutdown(config ShutdownConfig) WebSocketOption {
	return func(ws *WebSocket) {
		ws.shutdown = NewShutdownManager(config)
	}
}
