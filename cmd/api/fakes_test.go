package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/auth"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/presence"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	alice = "+15550100001"
	bob   = "+15550100002"
	carol = "+15550100003"
)

// memDB backs every store interface the server needs with maps.
type memDB struct {
	mu       sync.Mutex
	users    map[string]*data.User
	conns    map[string]*data.Connection
	msgs     []*data.Message
	presence map[string]bool
}

func newMemDB(phones ...string) *memDB {
	m := &memDB{
		users:    map[string]*data.User{},
		conns:    map[string]*data.Connection{},
		presence: map[string]bool{},
	}
	for _, p := range phones {
		m.users[p] = &data.User{ID: bson.NewObjectID(), Phone: p, Name: p}
	}
	return m
}

func (m *memDB) CreateUser(ctx context.Context, name, phone, hashedPassword string) (*data.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[phone]; ok {
		return nil, data.ErrUserExists
	}
	u := &data.User{ID: bson.NewObjectID(), Name: name, Phone: phone, Password: hashedPassword}
	m.users[phone] = u
	return u, nil
}

func (m *memDB) GetUserByPhone(ctx context.Context, phone string) (*data.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[phone]
	if !ok {
		return nil, data.ErrNotFound
	}
	return u, nil
}

func (m *memDB) UserExists(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[phone]
	return ok, nil
}

func (m *memDB) SetPresence(ctx context.Context, phone string, online bool, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[phone]; !ok {
		return data.ErrNotFound
	}
	m.presence[phone] = online
	return nil
}

func (m *memDB) FindByPair(ctx context.Context, a, b string) (*data.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[data.PairKey(a, b)]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memDB) CreatePending(ctx context.Context, requester, recipient string) (*data.Connection, error) {
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

func (m *memDB) SetStatus(ctx context.Context, requester, recipient string, status data.ConnectionStatus) (*data.Connection, error) {
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

func (m *memDB) SetBlocked(ctx context.Context, a, b, blocker string) (*data.Connection, error) {
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

func (m *memDB) DeleteByPair(ctx context.Context, a, b string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := data.PairKey(a, b)
	if _, ok := m.conns[key]; !ok {
		return 0, nil
	}
	delete(m.conns, key)
	return 1, nil
}

func (m *memDB) DeletePair(ctx context.Context, a, b string) (data.PairDeletion, error) {
	n, _ := m.DeleteByPair(ctx, a, b)
	msgs, _ := m.DeleteBetween(ctx, a, b)
	return data.PairDeletion{Connections: n, Messages: msgs}, nil
}

func (m *memDB) DeleteBetween(ctx context.Context, a, b string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	return n, nil
}

func (m *memDB) Create(ctx context.Context, sender, recipient, text string, sentAt time.Time) (*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &data.Message{
		ID: bson.NewObjectID(), Sender: sender, Recipient: recipient, Text: text,
		Time: data.FormatSendTime(sentAt), Status: data.MessageSent, CreatedAt: sentAt,
	}
	m.msgs = append(m.msgs, msg)
	cp := *msg
	return &cp, nil
}

func (m *memDB) ListByPair(ctx context.Context, a, b string, limit int64) ([]*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*data.Message
	for _, msg := range m.msgs {
		if data.PairKey(msg.Sender, msg.Recipient) == data.PairKey(a, b) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (m *memDB) MarkReadBulk(ctx context.Context, sender, recipient string) (int64, error) {
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

func (m *memDB) MarkDelivered(ctx context.Context, id bson.ObjectID) (bool, error) {
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

func (m *memDB) GetRecentChats(ctx context.Context, phone string, limit int64) ([]*data.ChatPartner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*data.ChatPartner
	seen := map[string]bool{}
	for i := len(m.msgs) - 1; i >= 0; i-- {
		msg := m.msgs[i]
		partner := msg.Recipient
		if msg.Recipient == phone {
			partner = msg.Sender
		} else if msg.Sender != phone {
			continue
		}
		if seen[partner] {
			continue
		}
		seen[partner] = true
		out = append(out, &data.ChatPartner{Phone: partner, LastMessage: msg.Text, LastMessageTime: msg.CreatedAt})
	}
	return out, nil
}

func (m *memDB) messages() []data.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]data.Message, 0, len(m.msgs))
	for _, msg := range m.msgs {
		out = append(out, *msg)
	}
	return out
}

func (m *memDB) online(phone string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presence[phone]
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

const testSecret = "test-secret"

// newTestServer wires a Server over db with no event rate limit.
func newTestServer(db *memDB) *Server {
	log := quietLogger()
	svc := chat.NewService(db, db, db, db, log)
	reg := presence.NewRegistry(db, log)
	return newServer(db, svc, reg, auth.NewJWTManager(testSecret, time.Hour), nil, log)
}

func withLimiter(s *Server, perSecond, burst int) *Server {
	s.events = middleware.NewPerSecondLimiterStore(perSecond, burst, time.Minute)
	return s
}

// fakeStream implements the server side of Connect for direct handler calls.
type fakeStream struct {
	ctx context.Context
	// requests to return from Recv sequentially
	reqs []*structpb.Struct

	mu   sync.Mutex
	sent []*structpb.Struct
}

func newFakeStream(phone string, reqs ...*structpb.Struct) *fakeStream {
	ctx := withClaims(context.Background(), &auth.Claims{Phone: phone})
	return &fakeStream{ctx: ctx, reqs: reqs}
}

func (f *fakeStream) Recv() (*structpb.Struct, error) {
	if len(f.reqs) == 0 {
		return nil, io.EOF
	}
	r := f.reqs[0]
	f.reqs = f.reqs[1:]
	return r, nil
}

func (f *fakeStream) Send(r *structpb.Struct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeStream) Context() context.Context { return f.ctx }

// The following methods are part of grpc.ServerStream; keep signatures exact so
// fakeStream implements grpc.BidiStreamingServer.
func (f *fakeStream) SetHeader(md metadata.MD) error  { return nil }
func (f *fakeStream) SendHeader(md metadata.MD) error { return nil }
func (f *fakeStream) SetTrailer(md metadata.MD)       {}

func (f *fakeStream) RecvMsg(m any) error {
	req, ok := m.(*structpb.Struct)
	if !ok {
		return errors.New("RecvMsg: unexpected type")
	}
	r, err := f.Recv()
	if err != nil {
		return err
	}
	proto.Reset(req)
	proto.Merge(req, r)
	return nil
}

func (f *fakeStream) SendMsg(m any) error {
	resp, ok := m.(*structpb.Struct)
	if !ok {
		return fmt.Errorf("SendMsg: unexpected type: %T", m)
	}
	return f.Send(resp)
}

// received returns the decoded envelopes sent so far, optionally filtered by name.
func (f *fakeStream) received(names ...string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterEvents(f.sent, names)
}

// fakeSender records envelopes pushed through the hub.
type fakeSender struct {
	mu   sync.Mutex
	sent []*structpb.Struct
	fail bool
}

func (f *fakeSender) Send(r *structpb.Struct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send fail")
	}
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeSender) received(names ...string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterEvents(f.sent, names)
}

type sentEvent struct {
	Name string
	Data map[string]any
}

func filterEvents(msgs []*structpb.Struct, names []string) []sentEvent {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []sentEvent
	for _, m := range msgs {
		name, payload, err := decodeEvent(m)
		if err != nil {
			continue
		}
		if len(want) > 0 && !want[name] {
			continue
		}
		out = append(out, sentEvent{Name: name, Data: payload})
	}
	return out
}

// envelope builds an inbound stream event.
func envelope(t *testing.T, name string, payload map[string]any) *structpb.Struct {
	t.Helper()
	msg, err := encodeEvent(events.Event{Name: name, Data: payload})
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return msg
}
