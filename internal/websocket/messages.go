package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeSyncCompleted          MessageType = "sync.completed"
	TypeCalendarImportFinished MessageType = "calendar.import_finished"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncPayload is the payload for sync.completed events.
type SyncPayload struct {
	IntegrationID string `json:"integration_id,omitempty"`
	Platform      string `json:"platform"`
	Trigger       string `json:"trigger"`
	Outcome       string `json:"outcome"`
	NewBookings   int    `json:"new_bookings"`
	Updated       int    `json:"updated_bookings"`
	ErrorCount    int    `json:"error_count"`
	Message       string `json:"message,omitempty"`
}

// CalendarImportPayload is the payload for calendar.import_finished events.
type CalendarImportPayload struct {
	VillaID   string `json:"villa_id"`
	Imported  int    `json:"imported"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Conflicts int    `json:"conflicts"`
	Errors    int    `json:"errors"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
