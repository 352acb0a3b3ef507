// Package rpc runs JSON-RPC 2.0 over a relay transceiver.
//
// A Peer works on either end of a channel:
//
//	peer := rpc.NewPeer(t, rpc.WithPeerLogger(logger))
//	peer.Use(middleware.DefaultStack(logger)...)
//	peer.Handle("tools/list", listTools)
//
//	var result ToolsResult
//	err := peer.Call(ctx, "tools/list", nil, &result)
//
// Outbound calls use fresh ULID string ids. Inbound requests are served
// concurrently; their contexts carry the protocol.Origin of the channel.
// Frames that do not parse are answered with a parse error under a fresh
// id, unknown methods with a method not found error under the request id.
package rpc
