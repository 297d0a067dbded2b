package main

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

// StreamSender defines the minimal interface the hub needs from a stream: the ability
// to push event envelopes to the connected client.
type StreamSender interface {
	Send(*structpb.Struct) error
}

// session is one live stream. gRPC streams do not allow concurrent Send
// calls, so every send goes through mu.
type session struct {
	mu     sync.Mutex
	sender StreamSender
}

func (s *session) send(msg *structpb.Struct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender.Send(msg)
}

// ConnectionHub manages active chat streams for connected users.
// It maps phone numbers to one or more live sessions so the server can push
// events to every device a user currently has open.
type ConnectionHub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*session
}

// NewConnectionHub creates a new hub instance.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{sessions: make(map[string]map[string]*session)}
}

// Register adds a stream for phone and returns its session id, which must be
// passed to Unregister when the stream closes.
func (h *ConnectionHub) Register(phone string, s StreamSender) string {
	id := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[phone]; !ok {
		h.sessions[phone] = make(map[string]*session)
	}
	h.sessions[phone][id] = &session{sender: s}
	return id
}

// Unregister removes a previously-registered session of phone.
func (h *ConnectionHub) Unregister(phone, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.sessions[phone]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.sessions, phone)
		}
	}
}

// snapshot copies the sessions of phone so sends happen outside the hub lock.
func (h *ConnectionHub) snapshot(phone string) map[string]*session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*session, len(h.sessions[phone]))
	for id, s := range h.sessions[phone] {
		out[id] = s
	}
	return out
}

// SendToUser pushes msg to every live session of phone and returns how many
// sessions received it. Delivery is best-effort: sessions that fail are
// unregistered and the first error is returned.
func (h *ConnectionHub) SendToUser(phone string, msg *structpb.Struct) (int, error) {
	conns := h.snapshot(phone)
	if len(conns) == 0 {
		return 0, fmt.Errorf("user %s not connected", phone)
	}

	var (
		firstErr  error
		delivered int
		failedIDs []string
	)
	for id, s := range conns {
		if err := s.send(msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
			continue
		}
		delivered++
	}

	// Drop broken streams so they stop receiving fan-out.
	for _, id := range failedIDs {
		h.Unregister(phone, id)
	}
	return delivered, firstErr
}

// SendToSession pushes msg to a single session of phone.
func (h *ConnectionHub) SendToSession(phone, id string, msg *structpb.Struct) error {
	h.mu.RLock()
	s, ok := h.sessions[phone][id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not connected", id)
	}
	if err := s.send(msg); err != nil {
		h.Unregister(phone, id)
		return err
	}
	return nil
}

// Broadcast pushes msg to every live session of every user and returns how
// many sessions received it.
func (h *ConnectionHub) Broadcast(msg *structpb.Struct) int {
	h.mu.RLock()
	phones := make([]string, 0, len(h.sessions))
	for phone := range h.sessions {
		phones = append(phones, phone)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, phone := range phones {
		n, _ := h.SendToUser(phone, msg)
		delivered += n
	}
	return delivered
}
