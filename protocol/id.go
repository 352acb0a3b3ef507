package protocol

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidID is returned when a JSON value is not a valid JSON-RPC id.
var ErrInvalidID = errors.New("jsonrpc: id must be a string or an integer")

type idKind uint8

const (
	idNone idKind = iota
	idString
	idNumber
)

// ID is a JSON-RPC correlation id: a string or an integer. The zero value
// is the absent id (null). IDs are comparable with ==.
type ID struct {
	kind idKind
	str  string
	num  int64
}

// StringID returns a string id.
func StringID(s string) ID {
	return ID{kind: idString, str: s}
}

// IntID returns an integer id.
func IntID(n int64) ID {
	return ID{kind: idNumber, num: n}
}

// NewRandomID returns a fresh, lexicographically sortable string id.
func NewRandomID() ID {
	return StringID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// ParseID decodes a raw JSON id. Empty input and null yield the zero ID.
func ParseID(raw json.RawMessage) (ID, error) {
	var id ID
	if err := id.UnmarshalJSON(raw); err != nil {
		return ID{}, err
	}
	return id, nil
}

// IsZero reports whether the id is absent.
func (id ID) IsZero() bool { return id.kind == idNone }

// IsString reports whether the id is a string.
func (id ID) IsString() bool { return id.kind == idString }

// IsNumber reports whether the id is an integer.
func (id ID) IsNumber() bool { return id.kind == idNumber }

// Int returns the integer value of a number id, or 0.
func (id ID) Int() int64 { return id.num }

// String returns the string value of a string id, or the decimal form of a
// number id.
func (id ID) String() string {
	switch id.kind {
	case idString:
		return id.str
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	default:
		return ""
	}
}

// Raw returns the JSON encoding of the id.
func (id ID) Raw() json.RawMessage {
	b, _ := id.MarshalJSON()
	return b
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.str)
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Fractional numbers are
// rejected so that integers survive every round trip unchanged.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return ErrInvalidID
		}
		*id = IntID(n)
		return nil
	default:
		return ErrInvalidID
	}
}
