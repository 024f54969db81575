package session

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageType is the severity tag of a session message.
type MessageType string

const (
	MessageInfo    MessageType = "INFO"
	MessageWarning MessageType = "WARNING"
	MessageError   MessageType = "ERROR"
	MessageDebug   MessageType = "DEBUG"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageInfo, MessageWarning, MessageError, MessageDebug:
		return true
	}
	return false
}

// Message is one entry in a session's backlog, waiting to be delivered to the
// client by the transport. Messages are immutable once created.
type Message struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// NewMessage creates a Message with a fresh ID and the current UTC time.
// The attrs map is copied.
func NewMessage(typ MessageType, text string, attrs map[string]string) Message {
	var a map[string]string
	if len(attrs) > 0 {
		a = maps.Clone(attrs)
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Attrs:     a,
	}
}
