package main

import (
	"context"
	"io"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Connect is the realtime session of one authenticated user. The stream is
// registered under the token's phone on open; inbound events are handled in
// arrival order and their outcomes fanned out through the hub.
func (s *Server) Connect(stream ChatService_ConnectServer) error {
	claims, ok := getClaimsFromContext(stream.Context())
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	phone := claims.Phone

	sessionID := s.hub.Register(phone, stream)
	log := s.log.WithFields(logrus.Fields{"phone": phone, "session": sessionID})
	log.Debug("stream opened")

	if ev, ok := s.presence.Connect(stream.Context(), phone, sessionID); ok {
		s.deliver(ev)
	}

	defer func() {
		s.hub.Unregister(phone, sessionID)
		// The stream context is already cancelled here.
		if ev, ok := s.presence.Disconnect(context.Background(), sessionID); ok {
			s.deliver(ev)
		}
		log.Debug("stream closed")
	}()

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if c := status.Code(err); c == codes.Canceled || c == codes.DeadlineExceeded {
				return nil
			}
			return status.Errorf(codes.Internal, "receive error: %v", err)
		}

		name, payload, err := decodeEvent(req)
		if err != nil {
			s.reject(phone, "", chat.CodeInvalidRequest, err.Error())
			continue
		}
		s.handleEvent(stream.Context(), phone, sessionID, name, payload)
	}
}

// handleEvent runs one inbound event for the session. Failures are reported
// to the acting identity as message_error and never end the stream.
func (s *Server) handleEvent(ctx context.Context, phone, sessionID, name string, payload map[string]any) {
	to := stringField(payload, "to")
	log := s.log.WithFields(logrus.Fields{"phone": phone, "session": sessionID, "event": name})

	if s.events != nil && !s.events.Allow("events:"+phone) {
		log.Debug("event rate limited")
		s.reject(phone, to, chat.CodeRateLimited, "too many events, slow down")
		return
	}

	if from := stringField(payload, "from"); from != "" && normalize.Phone(from) != phone {
		s.reject(phone, to, chat.CodeInvalidRequest, "sender does not match the signed-in user")
		return
	}

	var cmd chat.Command
	switch name {
	case events.Register:
		if p := stringField(payload, "phone"); p != "" && normalize.Phone(p) != phone {
			s.reject(phone, "", chat.CodeInvalidRequest, "phone does not match the signed-in user")
			return
		}
		s.deliverToSession(phone, sessionID, events.To(phone, events.Registered, map[string]any{"phone": phone}))
		return
	case events.PrivateMessage:
		cmd = chat.SendMessage{From: phone, To: to, Text: stringField(payload, "message")}
	case events.RespondToRequest:
		decision, err := data.ParseConnectionStatus(stringField(payload, "status"))
		if err != nil {
			s.reject(phone, to, chat.CodeInvalidRequest, "status must be accepted or rejected")
			return
		}
		cmd = chat.RespondToRequest{From: phone, To: to, Decision: decision}
	case events.MarkAsRead:
		cmd = chat.MarkAsRead{From: phone, To: to}
	case events.Typing:
		cmd = chat.Typing{From: phone, To: to}
	case events.StopTyping:
		cmd = chat.Typing{From: phone, To: to, Stopped: true}
	default:
		s.reject(phone, to, chat.CodeInvalidRequest, "unknown event "+name)
		return
	}

	out, err := s.chat.Dispatch(ctx, cmd)
	if err != nil {
		s.reject(phone, to, chat.ErrorCode(err), chat.PublicMessage(err))
		return
	}
	s.fanOut(ctx, out)
}

// fanOut delivers the events of an outcome. A persisted message reaching at
// least one session of its recipient is marked delivered.
func (s *Server) fanOut(ctx context.Context, out chat.Outcome) {
	reached := false
	for _, ev := range out.Events {
		n := s.deliver(ev)
		if out.Message != nil && ev.To == out.Message.Recipient && n > 0 {
			reached = true
		}
	}
	if !reached {
		return
	}
	// Delivery bookkeeping outlives a sender that disconnects right after.
	if err := s.chat.MarkDelivered(context.WithoutCancel(ctx), out.Message); err != nil {
		s.log.WithError(err).WithField("message", out.Message.ID.Hex()).Warn("mark delivered failed")
	}
}

// deliver routes ev to its identity group, or to everyone for broadcasts,
// and returns the number of sessions reached.
func (s *Server) deliver(ev events.Event) int {
	msg, err := encodeEvent(ev)
	if err != nil {
		s.log.WithError(err).WithField("event", ev.Name).Error("encode event failed")
		return 0
	}
	if ev.Broadcast {
		return s.hub.Broadcast(msg)
	}
	n, err := s.hub.SendToUser(ev.To, msg)
	if err != nil {
		// Offline or broken streams; the persisted state is what counts.
		s.log.WithError(err).WithFields(logrus.Fields{"event": ev.Name, "to": ev.To}).Debug("delivery incomplete")
	}
	return n
}

func (s *Server) deliverToSession(phone, sessionID string, ev events.Event) {
	msg, err := encodeEvent(ev)
	if err != nil {
		s.log.WithError(err).WithField("event", ev.Name).Error("encode event failed")
		return
	}
	if err := s.hub.SendToSession(phone, sessionID, msg); err != nil {
		s.log.WithError(err).WithField("session", sessionID).Debug("session send failed")
	}
}

// reject reports a failed operation to every session of phone.
func (s *Server) reject(phone, to string, code chat.Code, msg string) {
	s.deliver(events.To(phone, events.MessageError, events.Error(to, string(code), msg)))
}
