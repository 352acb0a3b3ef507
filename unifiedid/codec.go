// Package unifiedid rewrites JSON-RPC correlation ids so that independent
// participants can share one relay session without id collisions.
//
// A token embeds the tuple (session, participant kind, participant id,
// original id). Tokens decode only under a Codec bound to the same session;
// anything else, including malformed input, passes through unchanged.
//
//	codec := unifiedid.New("s1")
//	token := codec.Serialize(unifiedid.Server("srv-1"), protocol.IntID(42))
//	id := codec.Deserialize(token) // protocol.IntID(42)
package unifiedid

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// Prefix marks a string id as a unified id token.
const Prefix = "muid_"

// encoding rejects non-zero trailing bits so every token has exactly one
// spelling.
var encoding = base64.RawURLEncoding.Strict()

// Kind is the participant kind of a sender.
type Kind uint8

const (
	ClientSide Kind = 0
	ServerSide Kind = 1
)

func (k Kind) String() string {
	switch k {
	case ClientSide:
		return "client"
	case ServerSide:
		return "server"
	default:
		return "unknown"
	}
}

// Sender identifies the participant that issued an id.
type Sender struct {
	Kind Kind
	ID   string
}

// Server returns a server-side sender.
func Server(id string) Sender { return Sender{Kind: ServerSide, ID: id} }

// Client returns a client-side sender.
func Client(id string) Sender { return Sender{Kind: ClientSide, ID: id} }

// Token is the decoded content of a unified id.
type Token struct {
	SessionID  string
	Sender     Sender
	OriginalID protocol.ID
}

// Codec encodes and decodes tokens for a single session. It holds no state
// besides the session id and is safe for concurrent use.
type Codec struct {
	sessionID string
}

// New returns a Codec bound to sessionID.
func New(sessionID string) *Codec {
	return &Codec{sessionID: sessionID}
}

// SessionID returns the session the codec is bound to.
func (c *Codec) SessionID() string {
	return c.sessionID
}

// Serialize returns the token for id issued by sender. A string id that is
// already a token of this session is returned as is.
func (c *Codec) Serialize(sender Sender, id protocol.ID) string {
	if id.IsString() {
		if tok, ok := Decode(id.String()); ok && tok.SessionID == c.sessionID {
			return id.String()
		}
	}
	return encode(Token{SessionID: c.sessionID, Sender: sender, OriginalID: id})
}

// Deserialize returns the original id embedded in token. Tokens of other
// sessions and strings that are not tokens come back unchanged, as a
// string id.
func (c *Codec) Deserialize(token string) protocol.ID {
	tok, ok := Decode(token)
	if !ok || tok.SessionID != c.sessionID {
		return protocol.StringID(token)
	}
	return tok.OriginalID
}

// DeserializeID is Deserialize for an id of unknown kind. Number ids are
// returned unchanged.
func (c *Codec) DeserializeID(id protocol.ID) protocol.ID {
	if !id.IsString() {
		return id
	}
	return c.Deserialize(id.String())
}

// NormalizeID strips the token wrapping of id regardless of session.
// Numbers and strings that are not tokens pass through.
func NormalizeID(id protocol.ID) protocol.ID {
	if !id.IsString() {
		return id
	}
	if tok, ok := Decode(id.String()); ok {
		return tok.OriginalID
	}
	return id
}

// Decode parses s as a token of any session.
func Decode(s string) (Token, bool) {
	body, ok := strings.CutPrefix(s, Prefix)
	if !ok || body == "" {
		return Token{}, false
	}
	raw, err := encoding.DecodeString(body)
	if err != nil {
		return Token{}, false
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 4 {
		return Token{}, false
	}

	var tok Token
	if err := json.Unmarshal(parts[0], &tok.SessionID); err != nil {
		return Token{}, false
	}
	var kind int
	if err := json.Unmarshal(parts[1], &kind); err != nil || (kind != int(ClientSide) && kind != int(ServerSide)) {
		return Token{}, false
	}
	tok.Sender.Kind = Kind(kind)
	if err := json.Unmarshal(parts[2], &tok.Sender.ID); err != nil {
		return Token{}, false
	}
	if err := json.Unmarshal(parts[3], &tok.OriginalID); err != nil || tok.OriginalID.IsZero() {
		return Token{}, false
	}
	return tok, true
}

func encode(tok Token) string {
	raw, _ := json.Marshal([]any{tok.SessionID, tok.Sender.Kind, tok.Sender.ID, tok.OriginalID})
	return Prefix + encoding.EncodeToString(raw)
}
