// Package protocol defines the JSON-RPC 2.0 envelope carried by the relay.
//
// # Messages
//
// Message holds every member of a JSON-RPC message and classifies itself:
//
//	msg, err := protocol.ParseMessage(frame)
//	switch {
//	case msg.IsRequest():
//	case msg.IsNotification():
//	case msg.IsResponse():
//	}
//
// Correlation ids are ID values: a string or an integer, never a fraction.
//
// # Error Catalog
//
//	CodeParseError                 = -32700
//	CodeInvalidRequest             = -32600
//	CodeMethodNotFound             = -32601
//	CodeInvalidParams              = -32602
//	CodeInternalError              = -32603
//	CodeUnsupportedProtocolVersion = -32602 (data: supported, requested)
//	CodeGatewayError               = -32099 (message prefixed with GatewayPrefix)
//
// Constructors accept an optional message override; the code and data
// layout of each kind is fixed:
//
//	resp := protocol.NewParseError("").ToResponse()
//
// ToResponse generates a fresh id because it is used where the request id
// could not be recovered.
package protocol
