package chat

import (
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
)

// Command is an inbound realtime event bound to the verified identity of
// its session.
type Command interface {
	sender() string
}

// SendMessage asks to deliver Text from From to To.
type SendMessage struct {
	From, To, Text string
}

// RespondToRequest resolves the pending request To sent to From.
type RespondToRequest struct {
	From, To string
	Decision data.ConnectionStatus
}

// MarkAsRead reports that From has read everything To sent them.
type MarkAsRead struct {
	From, To string
}

// Typing relays a typing indicator from From to To. Stopped selects
// stop_typing.
type Typing struct {
	From, To string
	Stopped  bool
}

func (c SendMessage) sender() string      { return c.From }
func (c RespondToRequest) sender() string { return c.From }
func (c MarkAsRead) sender() string       { return c.From }
func (c Typing) sender() string           { return c.From }

// Outcome is the result of a dispatched command: the events to fan out
// and, for sends, the persisted message.
type Outcome struct {
	Events  []events.Event
	Message *data.Message
}
