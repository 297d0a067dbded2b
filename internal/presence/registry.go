// Package presence tracks which identities have live sessions and keeps
// the persisted online snapshot in step with them.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/sirupsen/logrus"
)

// SnapshotStore persists the best-effort online snapshot of a user.
type SnapshotStore interface {
	SetPresence(ctx context.Context, phone string, online bool, lastSeen time.Time) error
}

// Registry maps identities to their live sessions. It starts empty and is
// never persisted: after a restart every client reconnects and registers
// again.
type Registry struct {
	mu sync.Mutex
	// phone -> session ids
	sessions map[string]map[string]struct{}
	// session id -> phone; kept until Disconnect so teardown can find the
	// owner after the transport has dropped the channel.
	owners map[string]string

	store SnapshotStore
	log   *logrus.Entry
	now   func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(store SnapshotStore, log *logrus.Entry) *Registry {
	return &Registry{
		sessions: make(map[string]map[string]struct{}),
		owners:   make(map[string]string),
		store:    store,
		log:      log.WithField("component", "presence"),
		now:      time.Now,
	}
}

// Connect binds sessionID to phone and marks phone online. It returns the
// user_status_change event to broadcast; ok is false when the snapshot
// could not be written, in which case nothing should be broadcast.
func (r *Registry) Connect(ctx context.Context, phone, sessionID string) (ev events.Event, ok bool) {
	r.mu.Lock()
	if prev, bound := r.owners[sessionID]; bound && prev != phone {
		r.removeLocked(sessionID)
	}
	set, exists := r.sessions[phone]
	if !exists {
		set = make(map[string]struct{})
		r.sessions[phone] = set
	}
	set[sessionID] = struct{}{}
	r.owners[sessionID] = phone
	count := len(set)
	r.mu.Unlock()

	entry := r.log.WithField("phone", phone).WithField("session", sessionID).WithField("sessions", count)
	if err := r.store.SetPresence(ctx, phone, true, time.Time{}); err != nil {
		entry.WithError(err).Error("failed to persist online status")
		return events.Event{}, false
	}
	entry.Info("user online")
	return events.All(events.UserStatusChange, events.Presence(phone, true, time.Time{})), true
}

// Disconnect drops sessionID. When it was the owner's last session the
// owner goes offline and the returned event should be broadcast.
func (r *Registry) Disconnect(ctx context.Context, sessionID string) (ev events.Event, ok bool) {
	r.mu.Lock()
	phone, bound := r.owners[sessionID]
	if !bound {
		r.mu.Unlock()
		return events.Event{}, false
	}
	last := r.removeLocked(sessionID)
	r.mu.Unlock()

	entry := r.log.WithField("phone", phone).WithField("session", sessionID)
	if !last {
		entry.Debug("session closed; user still online")
		return events.Event{}, false
	}

	seen := r.now()
	if err := r.store.SetPresence(ctx, phone, false, seen); err != nil {
		entry.WithError(err).Error("failed to persist offline status")
		return events.Event{}, false
	}
	entry.Info("user offline")
	return events.All(events.UserStatusChange, events.Presence(phone, false, seen)), true
}

// removeLocked unbinds sessionID and reports whether it was the last
// session of its owner. r.mu must be held.
func (r *Registry) removeLocked(sessionID string) bool {
	phone := r.owners[sessionID]
	delete(r.owners, sessionID)
	set := r.sessions[phone]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, phone)
		return true
	}
	return false
}

// OnlineCount returns how many identities are online.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
