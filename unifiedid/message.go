package unifiedid

import (
	"github.com/felixgeelhaar/mcp-relay/protocol"
)

// WrapMessage returns a copy of msg whose id is replaced by a token issued
// by sender. Messages without an id are returned unchanged.
func (c *Codec) WrapMessage(sender Sender, msg protocol.Message) protocol.Message {
	if !msg.HasID() {
		return msg
	}
	id, err := protocol.ParseID(msg.ID)
	if err != nil {
		return msg
	}
	msg.ID = protocol.StringID(c.Serialize(sender, id)).Raw()
	return msg
}

// UnwrapMessage returns a copy of msg whose id is restored to the original
// id when it is a token of this session.
func (c *Codec) UnwrapMessage(msg protocol.Message) protocol.Message {
	if !msg.HasID() {
		return msg
	}
	id, err := protocol.ParseID(msg.ID)
	if err != nil {
		return msg
	}
	msg.ID = c.DeserializeID(id).Raw()
	return msg
}

// SenderOf returns the sender embedded in a token of this session.
func (c *Codec) SenderOf(id protocol.ID) (Sender, bool) {
	if !id.IsString() {
		return Sender{}, false
	}
	tok, ok := Decode(id.String())
	if !ok || tok.SessionID != c.sessionID {
		return Sender{}, false
	}
	return tok.Sender, true
}
