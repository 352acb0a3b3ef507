package protocol

import (
	"fmt"
	"strings"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Gateway-specific error codes.
const (
	// CodeUnsupportedProtocolVersion shares its value with CodeInvalidParams
	// for wire compatibility with existing MCP clients.
	CodeUnsupportedProtocolVersion = CodeInvalidParams
	CodeGatewayError               = -32099
)

// GatewayPrefix marks messages of errors raised by the relay itself rather
// than by a participant.
const GatewayPrefix = "[gateway] "

// Default messages of the error catalog.
const (
	MessageParseError                 = "Parse error"
	MessageInvalidRequest             = "Invalid request"
	MessageMethodNotFound             = "Method not found"
	MessageInvalidParams              = "Invalid params"
	MessageInternalError              = "Internal server error"
	MessageUnsupportedProtocolVersion = "Unsupported protocol version"
	MessageGatewayError               = "Gateway error"
)

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %s (code: %d)", e.Message, e.Code)
}

// Is implements errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithData returns a copy of the error with additional data attached.
func (e *Error) WithData(data any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Data:    data,
	}
}

// WithMessage returns a copy of the error with its message replaced.
// Code and data are kept.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Code:    e.Code,
		Message: msg,
		Data:    e.Data,
	}
}

// ToResponse wraps the error in a response with a freshly generated id.
// It is meant for failures where the request id is unrecoverable, such as a
// parse error. Callers that know the request id should overwrite Response.ID.
func (e *Error) ToResponse() *Response {
	return NewErrorResponse(NewRandomID().Raw(), e)
}

func orDefault(msg, def string) string {
	if msg == "" {
		return def
	}
	return msg
}

// NewParseError creates a parse error (-32700).
func NewParseError(msg string) *Error {
	return &Error{Code: CodeParseError, Message: orDefault(msg, MessageParseError)}
}

// NewInvalidRequest creates an invalid request error (-32600).
func NewInvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: orDefault(msg, MessageInvalidRequest)}
}

// NewMethodNotFound creates a method not found error (-32601).
func NewMethodNotFound(msg string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: orDefault(msg, MessageMethodNotFound)}
}

// NewInvalidParams creates an invalid params error (-32602).
func NewInvalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: orDefault(msg, MessageInvalidParams)}
}

// NewInternalError creates an internal error (-32603).
func NewInternalError(msg string) *Error {
	return &Error{Code: CodeInternalError, Message: orDefault(msg, MessageInternalError)}
}

// UnsupportedVersionData is the data member of an unsupported protocol
// version error.
type UnsupportedVersionData struct {
	Supported []string `json:"supported"`
	Requested string   `json:"requested"`
}

// NewUnsupportedProtocolVersion creates an unsupported protocol version
// error (-32602) listing the supported versions.
func NewUnsupportedProtocolVersion(supported []string, requested string) *Error {
	if supported == nil {
		supported = []string{}
	}
	return &Error{
		Code:    CodeUnsupportedProtocolVersion,
		Message: MessageUnsupportedProtocolVersion,
		Data:    UnsupportedVersionData{Supported: supported, Requested: requested},
	}
}

// NewGatewayError creates a gateway error (-32099). The message is prefixed
// with GatewayPrefix; data may carry arbitrary extra context.
func NewGatewayError(msg string, data map[string]any) *Error {
	msg = orDefault(msg, MessageGatewayError)
	if !strings.HasPrefix(msg, GatewayPrefix) {
		msg = GatewayPrefix + msg
	}
	e := &Error{Code: CodeGatewayError, Message: msg}
	if len(data) > 0 {
		e.Data = data
	}
	return e
}
