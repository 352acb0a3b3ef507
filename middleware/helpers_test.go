package middleware

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// mockLogger captures log calls for testing.
type mockLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level   string
	message string
	fields  []logging.Field
}

func (l *mockLogger) record(level, msg string, fields []logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, message: msg, fields: fields})
}

func (l *mockLogger) Info(msg string, fields ...logging.Field)  { l.record("info", msg, fields) }
func (l *mockLogger) Error(msg string, fields ...logging.Field) { l.record("error", msg, fields) }
func (l *mockLogger) Debug(msg string, fields ...logging.Field) { l.record("debug", msg, fields) }
func (l *mockLogger) Warn(msg string, fields ...logging.Field)  { l.record("warn", msg, fields) }

func (e logEntry) field(key string) (any, bool) {
	for _, f := range e.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

var okHandler = HandlerFunc(func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
	return protocol.NewResponse(req.ID, "ok"), nil
})

func newRequest(method string) *protocol.Request {
	return &protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      json.RawMessage(`1`),
		Method:  method,
	}
}

func originContext(session, connection string) context.Context {
	return protocol.ContextWithOrigin(context.Background(), protocol.Origin{
		SessionID:    session,
		ConnectionID: connection,
	})
}
