// Package e2e exercises the relay transport end to end: MCP servers and
// clients dial real WebSocket endpoints and their requests are forwarded
// with unified ids in between.
package e2e

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-relay/logging"
	"github.com/felixgeelhaar/mcp-relay/middleware"
	"github.com/felixgeelhaar/mcp-relay/protocol"
	"github.com/felixgeelhaar/mcp-relay/rpc"
	"github.com/felixgeelhaar/mcp-relay/transport"
	"github.com/felixgeelhaar/mcp-relay/unifiedid"
)

// hub forwards frames of a single session between one server connection
// and any number of client connections.
type hub struct {
	codec *unifiedid.Codec

	mu      sync.Mutex
	server  *transport.ServerTransceiver
	clients map[string]*transport.ServerTransceiver
}

func newHub(t *testing.T, sessionID string) (h *hub, serverURL, clientURL string) {
	t.Helper()
	h = &hub{codec: unifiedid.New(sessionID), clients: make(map[string]*transport.ServerTransceiver)}

	servers := transport.NewRegistry()
	servers.HandleConnection(func(st *transport.ServerTransceiver) {
		h.mu.Lock()
		h.server = st
		h.mu.Unlock()
		st.OnMessage(func(frame string) { h.fromServer(frame) })
	})
	clients := transport.NewRegistry()
	clients.HandleConnection(func(st *transport.ServerTransceiver) {
		h.mu.Lock()
		h.clients[st.Identity().ConnectionID] = st
		h.mu.Unlock()
		st.OnMessage(func(frame string) { h.fromClient(st, frame) })
	})

	serverSrv := httptest.NewServer(transport.NewWebSocket("", servers, transport.WithWebSocketKeepalive(0)))
	clientSrv := httptest.NewServer(transport.NewWebSocket("", clients, transport.WithWebSocketKeepalive(0)))
	t.Cleanup(serverSrv.Close)
	t.Cleanup(clientSrv.Close)
	return h, wsURL(serverSrv), wsURL(clientSrv)
}

func (h *hub) hasServer() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.server != nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func (h *hub) fromClient(st *transport.ServerTransceiver, frame string) {
	msg, err := protocol.ParseMessage([]byte(frame))
	if err != nil {
		return
	}
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()
	if server == nil {
		if msg.IsRequest() {
			st.SendJSON(context.Background(), protocol.NewErrorResponse(msg.ID, protocol.NewGatewayError("no server connected", nil)))
		}
		return
	}
	server.SendJSON(context.Background(), h.codec.WrapMessage(unifiedid.Client(st.Identity().ConnectionID), *msg))
}

func (h *hub) fromServer(frame string) {
	msg, err := protocol.ParseMessage([]byte(frame))
	if err != nil || !msg.IsResponse() {
		return
	}
	id, _ := protocol.ParseID(msg.ID)
	sender, ok := h.codec.SenderOf(id)
	if !ok {
		return
	}
	h.mu.Lock()
	client := h.clients[sender.ID]
	h.mu.Unlock()
	if client != nil {
		client.SendJSON(context.Background(), h.codec.UnwrapMessage(*msg))
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func dial(t *testing.T, url, session, conn string) *transport.ClientTransceiver {
	t.Helper()
	c := transport.Dial(transport.Identity{SessionID: session, ConnectionID: conn},
		url+"?session_id="+session+"&connection_id="+conn, nil)
	t.Cleanup(c.Close)
	if !waitFor(func() bool { return c.Socket().Phase() == transport.PhaseOpen }) {
		t.Fatalf("%s never connected", conn)
	}
	return c
}

func startServer(t *testing.T, h *hub, url string) *rpc.Peer {
	t.Helper()
	peer := rpc.NewPeer(dial(t, url, "s1", "mcp-server"))
	peer.Use(middleware.DefaultStack(logging.NopLogger{})...)
	peer.Handle("echo", func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
		return protocol.NewResponse(req.ID, req.Params), nil
	})
	peer.Handle("whoami", func(_ context.Context, req *protocol.Request) (*protocol.Response, error) {
		var id any
		json.Unmarshal(req.ID, &id)
		return protocol.NewResponse(req.ID, map[string]any{"seen_id": id}), nil
	})
	if !waitFor(h.hasServer) {
		t.Fatal("hub never registered the server")
	}
	return peer
}

func TestRelay_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	h, serverURL, clientURL := newHub(t, "s1")
	startServer(t, h, serverURL)

	client := rpc.NewPeer(dial(t, clientURL, "s1", "c1"))
	var out map[string]string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Call(ctx, "echo", map[string]string{"text": "hi"}, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["text"] != "hi" {
		t.Errorf("got %v", out)
	}
}

func TestRelay_ServerSeesUnifiedIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	h, serverURL, clientURL := newHub(t, "s1")
	startServer(t, h, serverURL)

	client := rpc.NewPeer(dial(t, clientURL, "s1", "c1"))
	var out struct {
		SeenID string `json:"seen_id"`
	}
	if err := client.Call(context.Background(), "whoami", nil, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	tok, ok := unifiedid.Decode(out.SeenID)
	if !ok {
		t.Fatalf("server saw %q, want a unified id", out.SeenID)
	}
	if tok.SessionID != "s1" || tok.Sender != unifiedid.Client("c1") {
		t.Errorf("token = %+v", tok)
	}
}

func TestRelay_SameIDFromTwoClients(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	h, serverURL, clientURL := newHub(t, "s1")
	startServer(t, h, serverURL)

	replies := make(map[string]chan string)
	for _, conn := range []string{"c1", "c2"} {
		c := dial(t, clientURL, "s1", conn)
		ch := make(chan string, 4)
		c.OnMessage(func(frame string) { ch <- frame })
		replies[conn] = ch
		frame := `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"from":"` + conn + `"}}`
		if err := c.Send(context.Background(), frame); err != nil {
			t.Fatalf("%s: Send: %v", conn, err)
		}
	}

	for conn, ch := range replies {
		select {
		case frame := <-ch:
			var msg protocol.Message
			if err := json.Unmarshal([]byte(frame), &msg); err != nil {
				t.Fatalf("%s: %v", conn, err)
			}
			if string(msg.ID) != "1" {
				t.Errorf("%s: id = %s, want 1", conn, msg.ID)
			}
			if !strings.Contains(string(msg.Result), `"from":"`+conn+`"`) {
				t.Errorf("%s: got another client's reply %s", conn, msg.Result)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no reply", conn)
		}
	}
}

func TestRelay_NoServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	_, _, clientURL := newHub(t, "s1")

	client := rpc.NewPeer(dial(t, clientURL, "s1", "c1"))
	err := client.Call(context.Background(), "echo", nil, nil)
	perr, ok := err.(*protocol.Error)
	if !ok {
		t.Fatalf("expected *protocol.Error, got %T (%v)", err, err)
	}
	if perr.Code != protocol.CodeGatewayError || !strings.HasPrefix(perr.Message, protocol.GatewayPrefix) {
		t.Errorf("got %d %q", perr.Code, perr.Message)
	}
}
