package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// Frame validation errors.
var (
	ErrMalformedFrame = errors.New("transport: frame is not valid JSON")
	ErrInvalidFrame   = errors.New("transport: frame is not a JSON-RPC 2.0 message")
)

// Validator checks an inbound frame before it is delivered.
type Validator interface {
	Validate(frame []byte) error
}

// ValidatorFunc is an adapter to allow ordinary functions as validators.
type ValidatorFunc func(frame []byte) error

// Validate calls f(frame).
func (f ValidatorFunc) Validate(frame []byte) error {
	return f(frame)
}

// MessageSchema is the JSON Schema of a single MCP JSON-RPC message or a
// non-empty batch of them.
const MessageSchema = `{
  "anyOf": [
    {"$ref": "#/$defs/message"},
    {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/message"}}
  ],
  "$defs": {
    "id": {"type": ["string", "number"]},
    "method": {"type": "string", "minLength": 1},
    "params": {"type": ["object", "array"]},
    "request": {
      "type": "object",
      "required": ["jsonrpc", "id", "method"],
      "properties": {
        "jsonrpc": {"const": "2.0"},
        "id": {"$ref": "#/$defs/id"},
        "method": {"$ref": "#/$defs/method"},
        "params": {"$ref": "#/$defs/params"}
      },
      "not": {"anyOf": [{"required": ["result"]}, {"required": ["error"]}]}
    },
    "notification": {
      "type": "object",
      "required": ["jsonrpc", "method"],
      "properties": {
        "jsonrpc": {"const": "2.0"},
        "method": {"$ref": "#/$defs/method"},
        "params": {"$ref": "#/$defs/params"}
      },
      "not": {"anyOf": [{"required": ["id"]}, {"required": ["result"]}, {"required": ["error"]}]}
    },
    "result": {
      "type": "object",
      "required": ["jsonrpc", "id", "result"],
      "properties": {
        "jsonrpc": {"const": "2.0"},
        "id": {"$ref": "#/$defs/id"}
      },
      "not": {"anyOf": [{"required": ["method"]}, {"required": ["error"]}]}
    },
    "error": {
      "type": "object",
      "required": ["jsonrpc", "error"],
      "properties": {
        "jsonrpc": {"const": "2.0"},
        "id": {"type": ["string", "number", "null"]},
        "error": {
          "type": "object",
          "required": ["code", "message"],
          "properties": {
            "code": {"type": "number"},
            "message": {"type": "string"}
          }
        }
      },
      "not": {"anyOf": [{"required": ["method"]}, {"required": ["result"]}]}
    },
    "message": {
      "anyOf": [
        {"$ref": "#/$defs/request"},
        {"$ref": "#/$defs/notification"},
        {"$ref": "#/$defs/result"},
        {"$ref": "#/$defs/error"}
      ]
    }
  }
}`

// SchemaValidator validates frames against a JSON Schema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles schema into a validator.
func NewSchemaValidator(schema []byte) (*SchemaValidator, error) {
	compiled, err := jsonschema.NewCompiler().Compile(schema)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid schema: %w", err)
	}
	return &SchemaValidator{schema: compiled}, nil
}

var defaultValidator = sync.OnceValue(func() *SchemaValidator {
	v, err := NewSchemaValidator([]byte(MessageSchema))
	if err != nil {
		panic(err)
	}
	return v
})

// DefaultValidator returns the shared validator for MessageSchema.
func DefaultValidator() *SchemaValidator {
	return defaultValidator()
}

// Validate returns ErrMalformedFrame for frames that do not parse and
// ErrInvalidFrame for frames that do not match the schema.
func (v *SchemaValidator) Validate(frame []byte) error {
	var value any
	if err := json.Unmarshal(frame, &value); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if result := v.schema.Validate(value); !result.IsValid() {
		return ErrInvalidFrame
	}
	return nil
}
