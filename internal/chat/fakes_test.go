package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// memStore is an in-memory stand-in for the Mongo stores. The pair map
// mirrors the unique index on connections.pair.
type memStore struct {
	mu    sync.Mutex
	conns map[string]*data.Connection
	msgs  []*data.Message
	users map[string]bool

	failCreateMessage bool
	failDeleteMessage bool
	failReads         bool
}

func newMemStore(users ...string) *memStore {
	m := &memStore{conns: map[string]*data.Connection{}, users: map[string]bool{}}
	for _, u := range users {
		m.users[u] = true
	}
	return m
}

var errStorage = errors.New("storage unavailable")

func (m *memStore) FindByPair(ctx context.Context, a, b string) (*data.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads {
		return nil, errStorage
	}
	c, ok := m.conns[data.PairKey(a, b)]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreatePending(ctx context.Context, requester, recipient string) (*data.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := data.PairKey(requester, recipient)
	if _, ok := m.conns[key]; ok {
		return nil, data.ErrDuplicate
	}
	c := &data.Connection{ID: bson.NewObjectID(), Pair: key, Requester: requester, Recipient: recipient, Status: data.ConnectionPending}
	m.conns[key] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) SetStatus(ctx context.Context, requester, recipient string, status data.ConnectionStatus) (*data.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[data.PairKey(requester, recipient)]
	if !ok || c.Requester != requester || c.Status != data.ConnectionPending {
		return nil, data.ErrNotFound
	}
	c.Status = status
	cp := *c
	return &cp, nil
}

func (m *memStore) SetBlocked(ctx context.Context, a, b, blocker string) (*data.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[data.PairKey(a, b)]
	if !ok {
		return nil, data.ErrNotFound
	}
	c.BlockedBy = blocker
	cp := *c
	return &cp, nil
}

func (m *memStore) DeleteByPair(ctx context.Context, a, b string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := data.PairKey(a, b)
	if _, ok := m.conns[key]; !ok {
		return 0, nil
	}
	delete(m.conns, key)
	return 1, nil
}

func (m *memStore) Create(ctx context.Context, sender, recipient, text string, sentAt time.Time) (*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateMessage {
		return nil, errStorage
	}
	msg := &data.Message{
		ID: bson.NewObjectID(), Sender: sender, Recipient: recipient, Text: text,
		Time: data.FormatSendTime(sentAt), Status: data.MessageSent, CreatedAt: sentAt,
	}
	m.msgs = append(m.msgs, msg)
	cp := *msg
	return &cp, nil
}

func (m *memStore) ListByPair(ctx context.Context, a, b string, limit int64) ([]*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*data.Message
	for _, msg := range m.msgs {
		if data.PairKey(msg.Sender, msg.Recipient) == data.PairKey(a, b) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (m *memStore) MarkReadBulk(ctx context.Context, sender, recipient string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.Sender == sender && msg.Recipient == recipient && msg.Status != data.MessageRead {
			msg.Status = data.MessageRead
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkDelivered(ctx context.Context, id bson.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id && msg.Status == data.MessageSent {
			msg.Status = data.MessageDelivered
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteBetween(ctx context.Context, a, b string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteMessage {
		return 0, errStorage
	}
	return m.dropMessagesLocked(a, b), nil
}

// dropMessagesLocked removes the messages of {a, b}. m.mu must be held.
func (m *memStore) dropMessagesLocked(a, b string) int64 {
	var n int64
	kept := m.msgs[:0]
	for _, msg := range m.msgs {
		if data.PairKey(msg.Sender, msg.Recipient) == data.PairKey(a, b) {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.msgs = kept
	return n
}

func (m *memStore) GetRecentChats(ctx context.Context, phone string, limit int64) ([]*data.ChatPartner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := map[string]*data.ChatPartner{}
	for _, msg := range m.msgs {
		partner := ""
		switch phone {
		case msg.Sender:
			partner = msg.Recipient
		case msg.Recipient:
			partner = msg.Sender
		default:
			continue
		}
		last[partner] = &data.ChatPartner{Phone: partner, LastMessage: msg.Text, LastMessageTime: msg.CreatedAt}
	}
	out := make([]*data.ChatPartner, 0, len(last))
	for _, p := range last {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) DeletePair(ctx context.Context, a, b string) (data.PairDeletion, error) {
	n, _ := m.DeleteByPair(ctx, a, b)
	m.mu.Lock()
	defer m.mu.Unlock()
	return data.PairDeletion{Connections: n, Messages: m.dropMessagesLocked(a, b)}, nil
}

func (m *memStore) UserExists(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[phone], nil
}

func (m *memStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *memStore) status(id bson.ObjectID) data.MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			return msg.Status
		}
	}
	return ""
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestService(store *memStore) *Service {
	svc := NewService(store, store, store, store, quietLogger())
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc
}
