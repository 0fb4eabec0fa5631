// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "encoding/json"

// Message is one JSON frame broadcast to dashboard clients.
type Message struct {
	Kind string          `json:"kind"` // status, animation
	Data json.RawMessage `json:"data"`
}

// NewMessage encodes v under kind.
func NewMessage(kind string, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Data: data}, nil
}
