// Package chat is the connection-gated messaging core: the connection
// state machine and the message send, read and delete pipeline. It knows
// nothing about transports; every operation returns the events to fan out.
package chat

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MaxMessageLength is the longest accepted message body, in characters.
const MaxMessageLength = 4096

// ConnectionStore persists connections. See data.ConnectionsStore.
type ConnectionStore interface {
	FindByPair(ctx context.Context, a, b string) (*data.Connection, error)
	CreatePending(ctx context.Context, requester, recipient string) (*data.Connection, error)
	SetStatus(ctx context.Context, requester, recipient string, status data.ConnectionStatus) (*data.Connection, error)
	SetBlocked(ctx context.Context, a, b, blocker string) (*data.Connection, error)
	DeleteByPair(ctx context.Context, a, b string) (int64, error)
}

// MessageStore persists messages. See data.MessagesStore.
type MessageStore interface {
	Create(ctx context.Context, sender, recipient, text string, sentAt time.Time) (*data.Message, error)
	ListByPair(ctx context.Context, a, b string, limit int64) ([]*data.Message, error)
	MarkReadBulk(ctx context.Context, sender, recipient string) (int64, error)
	MarkDelivered(ctx context.Context, id bson.ObjectID) (bool, error)
	DeleteBetween(ctx context.Context, a, b string) (int64, error)
	GetRecentChats(ctx context.Context, phone string, limit int64) ([]*data.ChatPartner, error)
}

// PairDeleter removes a connection together with its messages.
type PairDeleter interface {
	DeletePair(ctx context.Context, a, b string) (data.PairDeletion, error)
}

// UserDirectory answers whether a phone belongs to a registered user.
type UserDirectory interface {
	UserExists(ctx context.Context, phone string) (bool, error)
}

// Service runs the messaging core against its stores.
type Service struct {
	conns ConnectionStore
	msgs  MessageStore
	chats PairDeleter
	users UserDirectory
	log   *logrus.Entry

	// now is swapped in tests
	now func() time.Time
}

// NewService wires the core to its stores.
func NewService(conns ConnectionStore, msgs MessageStore, chats PairDeleter, users UserDirectory, log *logrus.Entry) *Service {
	return &Service{
		conns: conns,
		msgs:  msgs,
		chats: chats,
		users: users,
		log:   log.WithField("component", "chat"),
		now:   time.Now,
	}
}

// Dispatch runs one inbound command.
func (s *Service) Dispatch(ctx context.Context, cmd Command) (Outcome, error) {
	if cmd == nil {
		return Outcome{}, newError(CodeInvalidRequest, "unsupported command")
	}
	var (
		out Outcome
		err error
	)
	switch c := cmd.(type) {
	case SendMessage:
		out, err = s.Send(ctx, c)
	case RespondToRequest:
		out, err = s.Respond(ctx, c)
	case MarkAsRead:
		out, err = s.MarkAsRead(ctx, c)
	case Typing:
		out, err = s.Typing(ctx, c)
	default:
		err = newError(CodeInvalidRequest, "unsupported command")
	}

	if err != nil {
		entry := s.log.WithField("phone", cmd.sender()).WithError(err)
		if ErrorCode(err) == CodeInternal {
			entry.Error("command failed")
		} else {
			entry.Debug("command rejected")
		}
	}
	return out, err
}

// pair normalizes and validates the two identities of an operation.
func (s *Service) pair(me, other string) (string, string, error) {
	me = normalize.Phone(me)
	other = normalize.Phone(other)
	if me == "" || other == "" || !normalize.ValidPhone(other) {
		return "", "", newError(CodeInvalidRequest, "a valid phone number is required")
	}
	if me == other {
		return "", "", newError(CodeInvalidRequest, "you cannot message yourself")
	}
	return me, other, nil
}

// Send gates, persists and produces the delivery events for one message.
// The message is written before any event is produced.
func (s *Service) Send(ctx context.Context, cmd SendMessage) (Outcome, error) {
	from, to, err := s.pair(cmd.From, cmd.To)
	if err != nil {
		return Outcome{}, err
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return Outcome{}, newError(CodeInvalidRequest, "message cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return Outcome{}, newError(CodeInvalidRequest, "message is too long")
	}

	exists, err := s.users.UserExists(ctx, to)
	if err != nil {
		return Outcome{}, internalError("verify recipient", err)
	}
	if !exists {
		return Outcome{}, newError(CodeInvalidRequest, "recipient not found")
	}

	_, created, err := s.gate(ctx, from, to)
	if err != nil {
		return Outcome{}, err
	}

	if created {
		// A new cycle starts empty: drop messages an interrupted delete
		// left behind.
		n, err := s.msgs.DeleteBetween(ctx, from, to)
		if err != nil {
			s.rollbackRequest(ctx, from, to)
			return Outcome{}, internalError("clear orphaned messages", err)
		}
		if n > 0 {
			s.log.WithField("from", from).WithField("to", to).WithField("messages", n).Warn("removed orphaned messages")
		}
	}

	msg, err := s.msgs.Create(ctx, from, to, html.EscapeString(text), s.now())
	if err != nil {
		if created {
			s.rollbackRequest(ctx, from, to)
		}
		return Outcome{}, internalError("save message", err)
	}

	payload := events.Message(msg)
	if created {
		s.log.WithField("from", from).WithField("to", to).Info("connection request sent")
		return Outcome{Message: msg, Events: []events.Event{
			events.To(to, events.ConnectionRequest, map[string]any{"from": from, "message": payload}),
			events.To(from, events.RequestSent, map[string]any{"to": to, "message": payload}),
		}}, nil
	}
	return Outcome{Message: msg, Events: []events.Event{
		events.To(to, events.ReceiveMessage, payload),
		// Every session of the sender, the originating one included: it
		// learns the stored id and status from this echo.
		events.To(from, events.ReceiveMessage, payload),
	}}, nil
}

// rollbackRequest removes a request that ended up carrying no message.
func (s *Service) rollbackRequest(ctx context.Context, from, to string) {
	if _, err := s.conns.DeleteByPair(ctx, from, to); err != nil {
		s.log.WithError(err).WithField("from", from).WithField("to", to).Error("failed to roll back connection request")
	}
}

// MarkAsRead advances every message the counterpart sent to the reader
// to read, and tells the counterpart. Nothing left to advance is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, cmd MarkAsRead) (Outcome, error) {
	reader, counterpart, err := s.pair(cmd.From, cmd.To)
	if err != nil {
		return Outcome{}, err
	}
	n, err := s.msgs.MarkReadBulk(ctx, counterpart, reader)
	if err != nil {
		return Outcome{}, internalError("mark read", err)
	}
	if n == 0 {
		return Outcome{}, nil
	}
	return Outcome{Events: []events.Event{
		events.To(counterpart, events.MessagesRead, map[string]any{"by": reader, "count": n}),
	}}, nil
}

// Typing relays a transient typing indicator. Nothing is persisted. The
// signal is dropped silently unless the pair has a connection that is
// neither rejected nor blocked.
func (s *Service) Typing(ctx context.Context, cmd Typing) (Outcome, error) {
	from, to, err := s.pair(cmd.From, cmd.To)
	if err != nil {
		return Outcome{}, err
	}
	conn, err := s.conns.FindByPair(ctx, from, to)
	if errors.Is(err, data.ErrNotFound) {
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, internalError("find connection", err)
	}
	if conn.BlockedBy != "" || conn.Status == data.ConnectionRejected {
		return Outcome{}, nil
	}
	name := events.Typing
	if cmd.Stopped {
		name = events.StopTyping
	}
	return Outcome{Events: []events.Event{events.To(to, name, map[string]any{"from": from})}}, nil
}

// MarkDelivered records that msg reached at least one live session of
// its recipient. Messages already delivered or read are left alone.
func (s *Service) MarkDelivered(ctx context.Context, msg *data.Message) error {
	if msg == nil || msg.ID.IsZero() {
		return nil
	}
	if _, err := s.msgs.MarkDelivered(ctx, msg.ID); err != nil {
		return internalError("mark delivered", err)
	}
	return nil
}

// History returns the conversation between me and other, oldest first.
// Messages of a pair without a connection are never served.
func (s *Service) History(ctx context.Context, me, other string, limit int64) ([]*data.Message, error) {
	me, other, err := s.pair(me, other)
	if err != nil {
		return nil, err
	}
	if _, err := s.conns.FindByPair(ctx, me, other); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return []*data.Message{}, nil
		}
		return nil, internalError("find connection", err)
	}
	msgs, err := s.msgs.ListByPair(ctx, me, other, limit)
	if err != nil {
		return nil, internalError("list messages", err)
	}
	return msgs, nil
}

// RecentChats lists me's conversation partners, most recent first. Like
// History, partners without a connection are left out.
func (s *Service) RecentChats(ctx context.Context, me string, limit int64) ([]*data.ChatPartner, error) {
	if limit <= 0 {
		limit = 50
	}
	me = normalize.Phone(me)
	partners, err := s.msgs.GetRecentChats(ctx, me, limit)
	if err != nil {
		return nil, internalError("recent chats", err)
	}

	kept := partners[:0]
	for _, p := range partners {
		_, err := s.conns.FindByPair(ctx, me, p.Phone)
		if errors.Is(err, data.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, internalError("find connection", err)
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// DeleteChat removes the connection and every message between me and
// other. The pair starts over from no connection afterwards. Deleting a
// pair that has nothing is a no-op.
func (s *Service) DeleteChat(ctx context.Context, me, other string) (data.PairDeletion, error) {
	me, other, err := s.pair(me, other)
	if err != nil {
		return data.PairDeletion{}, err
	}
	res, err := s.chats.DeletePair(ctx, me, other)
	if err != nil {
		return data.PairDeletion{}, internalError("delete chat", err)
	}
	s.log.WithField("phone", me).WithField("other", other).
		WithField("messages", res.Messages).Info("chat deleted")
	return res, nil
}
