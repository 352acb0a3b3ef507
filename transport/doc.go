// Package transport provides the relay channel layer: identified duplex
// transceivers over WebSocket, a registry that maps raw server sockets to
// transceivers, and a client socket that reconnects on its own.
//
// # Server side
//
// A Registry turns socket callbacks into ServerTransceivers. The WebSocket
// transport feeds it from accepted connections:
//
//	reg := transport.NewRegistry(transport.WithLogger(logger))
//	reg.HandleConnection(func(t *transport.ServerTransceiver) {
//	    t.OnMessage(func(msg string) { route(t, msg) })
//	})
//	ws := transport.NewWebSocket(":8080", reg)
//	err := ws.Serve(ctx)
//
// Every inbound frame other than the keepalive frame is validated against
// MessageSchema. Invalid frames are dropped and the channel stays open.
//
// # Client side
//
// Dial opens a ReconnectingSocket and binds a ClientTransceiver to it:
//
//	t := transport.Dial(transport.NewIdentity(sessionID), "ws://relay/",
//	    []transport.ReconnectOption{transport.WithMaxAttempts(5)})
//	defer t.Close()
//
// The client answers every "ping" frame with "ping". Its identity is kept
// across reconnects, and it closes once the socket gives up.
//
// # Keepalive
//
// The literal text frame "ping" is a control frame. It never reaches
// message subscribers on either side.
package transport
