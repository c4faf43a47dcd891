// ABOUTME: Inbound webhook event types and lenient payload decoding
// ABOUTME: Chat id comes from "chatId" or "from"; body is text only if a non-empty JSON string

package router

import (
	"encoding/json"
	"fmt"
)

// EventMessage is the only event type the router acts on.
const EventMessage = "message"

// Event is one webhook delivery from the gateway.
type Event struct {
	Type    string
	Session string
	Payload Payload
}

// Payload is the subset of a message payload the router reads.
type Payload struct {
	ID     string
	FromMe bool
	ChatID string
	Body   json.RawMessage
}

// ParseEvent decodes a webhook body. The body must be a JSON object; a
// payload that is missing or does not decode leaves Payload zero, which
// the router rejects.
func ParseEvent(data []byte) (Event, error) {
	var wire struct {
		Event   string          `json:"event"`
		Session string          `json:"session"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("decoding webhook event: %w", err)
	}

	evt := Event{Type: wire.Event, Session: wire.Session}
	if len(wire.Payload) > 0 {
		var p Payload
		if err := json.Unmarshal(wire.Payload, &p); err == nil {
			evt.Payload = p
		}
	}
	return evt, nil
}

// UnmarshalJSON reads the gateway's message payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID     string          `json:"id"`
		FromMe bool            `json:"fromMe"`
		From   string          `json:"from"`
		ChatID string          `json:"chatId"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p.ID = wire.ID
	p.FromMe = wire.FromMe
	p.ChatID = wire.ChatID
	if p.ChatID == "" {
		p.ChatID = wire.From
	}
	p.Body = wire.Body
	return nil
}

// Text returns the body when it is a non-empty JSON string.
func (p Payload) Text() (string, bool) {
	if len(p.Body) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p.Body, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
