package websocket

import (
	"time"

	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Decoded feed events
	MessageTypeSignalling MessageType = "signalling"
	MessageTypeDescriber  MessageType = "describer"

	// Full decoder state, sent on connect and after a feed reconnect
	MessageTypeSnapshot MessageType = "snapshot"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"

	// Replies to client requests
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeError      MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`

	// set for signalling/describer messages so the hub can filter per client
	event *types.Event
}

// SystemStatusData is sent when the feed connection changes state
type SystemStatusData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
	Message  string `json:"message,omitempty"`
}

type SnapshotData struct {
	Events []types.Event `json:"events"`
}

type ErrorData struct {
	Reason string `json:"reason"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewEventMessage(ev types.Event) Message {
	msgType := MessageTypeSignalling
	if ev.IsDescriber() {
		msgType = MessageTypeDescriber
	}
	msg := NewMessage(msgType, ev)
	msg.event = &ev
	return msg
}

func NewSnapshotMessage(events []types.Event) Message {
	if events == nil {
		events = []types.Event{}
	}
	return NewMessage(MessageTypeSnapshot, SnapshotData{Events: events})
}

func NewSystemStatusMessage(state, previous, message string) Message {
	return NewMessage(MessageTypeSystemStatus, SystemStatusData{
		State:    state,
		Previous: previous,
		Message:  message,
	})
}
