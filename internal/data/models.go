package data

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ConnectionStatus is the consent state of a Connection.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Valid reports whether s is one of the known connection states.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionPending, ConnectionAccepted, ConnectionRejected:
		return true
	}
	return false
}

// ParseConnectionStatus converts a wire value into a ConnectionStatus.
func ParseConnectionStatus(v string) (ConnectionStatus, error) {
	s := ConnectionStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown connection status %q", v)
	}
	return s, nil
}

// MessageStatus is the delivery state of a Message. Values are ordered
// sent < delivered < read and a message never moves backwards.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known message states.
func (s MessageStatus) Valid() bool { return s.rank() > 0 }

// Before reports whether s precedes o in the delivery order.
func (s MessageStatus) Before(o MessageStatus) bool { return s.rank() < o.rank() }

// User maps to the users collection. Phone is the identity key.
type User struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	Phone      string        `bson:"phone"`
	Name       string        `bson:"name"`
	Password   string        `bson:"password"`
	About      string        `bson:"about"`
	ProfilePic string        `bson:"profile_pic"`
	IsOnline   bool          `bson:"is_online"`
	LastSeen   time.Time     `bson:"last_seen"`
	CreatedAt  time.Time     `bson:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at"`
}

// DefaultAbout is the status line given to new users.
const DefaultAbout = "Hey there! I am using WhatsApp."

// Connection maps to the connections collection. Pair is the order-free
// key of {Requester, Recipient} and carries a unique index.
type Connection struct {
	ID        bson.ObjectID    `bson:"_id,omitempty"`
	Pair      string           `bson:"pair"`
	Requester string           `bson:"requester"`
	Recipient string           `bson:"recipient"`
	Status    ConnectionStatus `bson:"status"`
	BlockedBy string           `bson:"blocked_by,omitempty"`
	CreatedAt time.Time        `bson:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

// Message maps to the messages collection.
type Message struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Sender    string        `bson:"sender"`
	Recipient string        `bson:"recipient"`
	Text      string        `bson:"message"`
	Time      string        `bson:"time"`
	Status    MessageStatus `bson:"status"`
	CreatedAt time.Time     `bson:"created_at"`
}

// ChatPartner is a conversation summary used by the chat list.
type ChatPartner struct {
	Phone           string
	LastMessage     string
	LastMessageTime time.Time
}

// PairKey returns the key shared by both orderings of {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// FormatSendTime renders the human readable send time stored on a message,
// e.g. "9:05 pm".
func FormatSendTime(t time.Time) string {
	return t.Format("3:04 pm")
}
