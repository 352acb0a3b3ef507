package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/mcp-relay/transport"
)

// relayServer runs a WebSocket transport on an httptest server and records
// the transceivers it accepts.
type relayServer struct {
	ws  *transport.WebSocket
	srv *httptest.Server
	rec *recorder

	mu    sync.Mutex
	peers []*transport.ServerTransceiver
}

func newRelayServer(t *testing.T, opts ...transport.WebSocketOption) *relayServer {
	t.Helper()
	rs := &relayServer{rec: &recorder{}}
	reg := transport.NewRegistry()
	reg.HandleConnection(func(st *transport.ServerTransceiver) {
		rs.mu.Lock()
		rs.peers = append(rs.peers, st)
		rs.mu.Unlock()
		rs.rec.attach(st)
	})
	rs.ws = transport.NewWebSocket("", reg, opts...)
	rs.srv = httptest.NewServer(rs.ws)
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *relayServer) URL(query string) string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http") + "/?" + query
}

func (rs *relayServer) Peers() []*transport.ServerTransceiver {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]*transport.ServerTransceiver(nil), rs.peers...)
}

func TestWebSocket_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	t.Run("full duplex exchange", func(t *testing.T) {
		server := newRelayServer(t, transport.WithWebSocketKeepalive(0))

		client := transport.Dial(transport.NewIdentity("s1"), server.URL("session_id=s1&connection_id=c1"), nil)
		defer client.Close()
		clientRec := &recorder{}
		clientRec.attach(client)

		if !waitFor(func() bool { return len(server.Peers()) == 1 }) {
			t.Fatal("expected one accepted connection")
		}
		peer := server.Peers()[0]
		if id := peer.Identity(); id.SessionID != "s1" || id.ConnectionID != "c1" {
			t.Errorf("expected identity from query, got %+v", id)
		}

		if !waitFor(func() bool { return client.Send(context.Background(), validRequest) == nil }) {
			t.Fatal("client never connected")
		}
		if !waitFor(func() bool { return len(server.rec.Messages()) >= 1 }) {
			t.Fatal("expected request on the server")
		}
		if got := server.rec.Messages()[0]; got != validRequest {
			t.Errorf("expected %s, got %s", validRequest, got)
		}

		response := `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`
		if err := peer.Send(context.Background(), response); err != nil {
			t.Fatalf("server send: %v", err)
		}
		if !waitFor(func() bool { return len(clientRec.Messages()) == 1 }) {
			t.Fatal("expected response on the client")
		}
		if got := clientRec.Messages()[0]; got != response {
			t.Errorf("expected %s, got %s", response, got)
		}
	})

	t.Run("drops invalid frames without closing", func(t *testing.T) {
		server := newRelayServer(t, transport.WithWebSocketKeepalive(0))

		conn, _, err := websocket.DefaultDialer.Dial(server.URL(""), nil)
		if err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		defer conn.Close()

		for _, frame := range []string{"not json", `{"jsonrpc":"2.0"}`, validRequest} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				t.Fatalf("write: %v", err)
			}
		}

		if !waitFor(func() bool { return len(server.rec.Messages()) == 1 }) {
			t.Fatal("expected the valid frame to arrive")
		}
		if got := server.rec.Messages(); got[0] != validRequest {
			t.Errorf("expected only the valid frame, got %v", got)
		}
		if peer := server.Peers()[0]; peer.Closed() {
			t.Error("invalid frames must not close the channel")
		}
	})

	t.Run("keepalive round trip", func(t *testing.T) {
		server := newRelayServer(t, transport.WithWebSocketKeepalive(20*time.Millisecond))

		client := transport.Dial(transport.NewIdentity(""), server.URL(""), nil)
		defer client.Close()
		clientRec := &recorder{}
		clientRec.attach(client)

		if !waitFor(func() bool { return len(server.Peers()) == 1 }) {
			t.Fatal("expected one accepted connection")
		}
		peer := server.Peers()[0]

		if !waitFor(func() bool { return !peer.LastKeepalive().IsZero() }) {
			t.Fatal("expected the client to echo the keepalive")
		}
		if len(clientRec.Messages()) != 0 || len(server.rec.Messages()) != 0 {
			t.Error("keepalive frames must not be delivered")
		}
	})

	t.Run("client close unregisters the server channel", func(t *testing.T) {
		server := newRelayServer(t, transport.WithWebSocketKeepalive(0))

		client := transport.Dial(transport.NewIdentity(""), server.URL(""), nil)
		if !waitFor(func() bool { return server.ws.Registry().Len() == 1 }) {
			t.Fatal("expected registered connection")
		}

		client.Close()

		if !waitFor(func() bool { return server.ws.Registry().Len() == 0 }) {
			t.Fatal("expected the server to unregister the connection")
		}
		if server.rec.Closes() != 1 {
			t.Errorf("expected one close event on the server, got %d", server.rec.Closes())
		}
	})

	t.Run("shutdown drains connections", func(t *testing.T) {
		server := newRelayServer(t, transport.WithWebSocketKeepalive(0))

		client := transport.Dial(transport.NewIdentity(""), server.URL(""),
			[]transport.ReconnectOption{
				transport.WithMaxAttempts(1),
				transport.WithReconnectDelay(10 * time.Millisecond),
			})
		defer client.Close()

		if !waitFor(func() bool { return server.ws.Registry().Len() == 1 }) {
			t.Fatal("expected registered connection")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.ws.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown: %v", err)
		}

		if server.ws.Registry().Len() != 0 {
			t.Errorf("expected no registered connections, got %d", server.ws.Registry().Len())
		}
		// The client retries once, is refused and gives up.
		if !waitFor(client.Closed) {
			t.Error("expected the client to give up")
		}

		_, resp, err := websocket.DefaultDialer.Dial(server.URL(""), nil)
		if err == nil {
			t.Fatal("expected upgrade to be refused while draining")
		}
		if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %v", resp)
		}
	})
}
