// Package events defines the realtime wire contract: inbound and outbound
// event names and the outbound payload shapes.
package events

import (
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
)

// Inbound event names.
const (
	Register         = "register"
	PrivateMessage   = "private_message"
	RespondToRequest = "respond_to_request"
	Typing           = "typing"
	StopTyping       = "stop_typing"
	MarkAsRead       = "mark_as_read"
)

// Outbound event names.
const (
	ConnectionRequest = "connection_request"
	RequestSent       = "request_sent"
	RequestResponse   = "request_response"
	ReceiveMessage    = "receive_message"
	MessageError      = "message_error"
	MessagesRead      = "messages_read"
	UserStatusChange  = "user_status_change"
	Registered        = "registered"
)

// Event is one outbound event addressed to every live session of an
// identity. An event with Broadcast set goes to all connected sessions
// and To is ignored.
type Event struct {
	To        string
	Broadcast bool
	Name      string
	Data      map[string]any
}

// To builds an event for the sessions of phone.
func To(phone, name string, payload map[string]any) Event {
	return Event{To: phone, Name: name, Data: payload}
}

// All builds an event for every connected session.
func All(name string, payload map[string]any) Event {
	return Event{Broadcast: true, Name: name, Data: payload}
}

// Message renders a persisted message as a wire payload.
func Message(m *data.Message) map[string]any {
	return map[string]any{
		"id":        m.ID.Hex(),
		"sender":    m.Sender,
		"recipient": m.Recipient,
		"message":   m.Text,
		"time":      m.Time,
		"status":    string(m.Status),
		"createdAt": Timestamp(m.CreatedAt),
	}
}

// Error renders a rejected operation for the acting session.
func Error(to, code, msg string) map[string]any {
	return map[string]any{"to": to, "code": code, "error": msg}
}

// Presence renders a user_status_change payload. lastSeen is omitted
// while the user is online.
func Presence(phone string, online bool, lastSeen time.Time) map[string]any {
	p := map[string]any{"phone": phone, "isOnline": online}
	if !online {
		p["lastSeen"] = Timestamp(lastSeen)
	}
	return p
}

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
