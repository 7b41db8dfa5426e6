package wire

import (
	"encoding/json"
	"fmt"
)

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "graphql-ws"

// Message types
const (
	GQLConnectionInit      = "connection_init"
	GQLConnectionAck       = "connection_ack"
	GQLConnectionError     = "connection_error"
	GQLConnectionKeepAlive = "ka"
	GQLConnectionTerminate = "connection_terminate"
	GQLStart               = "start"
	GQLStop                = "stop"
	GQLData                = "data"
	GQLError               = "error"
	GQLComplete            = "complete"
)

// Message is one frame of the streaming protocol.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message, marshaling payload when it is not nil.
func NewMessage(id, typ string, payload any) (Message, error) {
	msg := Message{ID: id, Type: typ}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	msg.Payload = raw
	return msg, nil
}

// DecodePayload unmarshals the message payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}
