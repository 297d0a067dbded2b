package presence

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/sirupsen/logrus"
)

type snapshot struct {
	online   bool
	lastSeen time.Time
}

type fakeSnapshots struct {
	mu   sync.Mutex
	last map[string]snapshot
	fail bool
}

func (f *fakeSnapshots) SetPresence(ctx context.Context, phone string, online bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	if f.last == nil {
		f.last = map[string]snapshot{}
	}
	f.last[phone] = snapshot{online: online, lastSeen: lastSeen}
	return nil
}

func newTestRegistry(store SnapshotStore) *Registry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	r := NewRegistry(store, logrus.NewEntry(l))
	r.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRegistry_MultipleSessions(t *testing.T) {
	store := &fakeSnapshots{}
	r := newTestRegistry(store)
	ctx := context.Background()

	ev, ok := r.Connect(ctx, "+15550100002", "s1")
	if !ok || !ev.Broadcast || ev.Name != events.UserStatusChange || ev.Data["isOnline"] != true {
		t.Fatalf("unexpected online event: %+v ok=%v", ev, ok)
	}
	if _, ok := r.Connect(ctx, "+15550100002", "s2"); !ok {
		t.Fatalf("second session should register")
	}

	// closing one tab keeps the user online
	if _, ok := r.Disconnect(ctx, "s1"); ok {
		t.Fatalf("no offline event expected while a session remains")
	}
	if r.OnlineCount() != 1 {
		t.Fatalf("user should still be online")
	}

	ev, ok = r.Disconnect(ctx, "s2")
	if !ok || ev.Data["isOnline"] != false || ev.Data["phone"] != "+15550100002" {
		t.Fatalf("unexpected offline event: %+v ok=%v", ev, ok)
	}
	if ev.Data["lastSeen"] != "2024-03-01T12:00:00Z" {
		t.Fatalf("unexpected lastSeen: %v", ev.Data["lastSeen"])
	}
	if r.OnlineCount() != 0 {
		t.Fatalf("user should be offline")
	}
	if snap := store.last["+15550100002"]; snap.online {
		t.Fatalf("offline snapshot not persisted")
	}

	// reconnect goes online again
	ev, ok = r.Connect(ctx, "+15550100002", "s3")
	if !ok || ev.Data["isOnline"] != true {
		t.Fatalf("reconnect should broadcast online: %+v", ev)
	}
}

func TestRegistry_UnknownSession(t *testing.T) {
	r := newTestRegistry(&fakeSnapshots{})
	if _, ok := r.Disconnect(context.Background(), "nope"); ok {
		t.Fatalf("disconnecting an unknown session should do nothing")
	}
}

func TestRegistry_DisconnectIsOnce(t *testing.T) {
	r := newTestRegistry(&fakeSnapshots{})
	ctx := context.Background()

	r.Connect(ctx, "+15550100001", "s1")
	if _, ok := r.Disconnect(ctx, "s1"); !ok {
		t.Fatalf("first disconnect should go offline")
	}
	if _, ok := r.Disconnect(ctx, "s1"); ok {
		t.Fatalf("session binding should be gone after disconnect")
	}
}

func TestRegistry_StorageFailureSuppressesBroadcast(t *testing.T) {
	store := &fakeSnapshots{fail: true}
	r := newTestRegistry(store)

	if _, ok := r.Connect(context.Background(), "+15550100001", "s1"); ok {
		t.Fatalf("no broadcast expected without a confirmed write")
	}
	// routing still knows the session
	if r.OnlineCount() != 1 {
		t.Fatalf("session should be registered even if the snapshot failed")
	}
}
