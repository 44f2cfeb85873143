// Package events defines the output events and wire messages used in cbridge.
package events

import (
	"encoding/json"
	"time"
)

// EventType is the value of the "type" discriminator on every server message.
type EventType string

const (
	// Session messages
	EventTypeSessionList    EventType = "session_list"
	EventTypeSessionCreated EventType = "session_created"
	EventTypeSessionOutput  EventType = "session_output"
	EventTypeSessionRaw     EventType = "session_raw"
	EventTypeSessionStatus  EventType = "session_status"
	EventTypeSessionEnded   EventType = "session_ended"
	EventTypeSessionError   EventType = "session_error"

	// Connection messages
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event is the base interface for all server messages.
type Event interface {
	// Type returns the message type.
	Type() EventType

	// Timestamp returns when the message was created.
	Timestamp() time.Time

	// GetSessionID returns the session the message is about (may be empty).
	GetSessionID() string
}

// Header carries the fields every server message starts with.
type Header struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"timestamp"`
}

// Type returns the message type.
func (h Header) Type() EventType {
	return h.EventType
}

// Timestamp returns when the message was created.
func (h Header) Timestamp() time.Time {
	return h.EventTime
}

func newHeader(t EventType) Header {
	return Header{EventType: t, EventTime: time.Now().UTC()}
}

// ToJSON serializes a message to a single JSON object.
func ToJSON(e Event) ([]byte, error) {
	return json.Marshal(e)
}
