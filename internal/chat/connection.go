package chat

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
)

// maxCreateAttempts bounds the create-if-absent loop. One retry is enough:
// a duplicate means the record now exists and the re-read will see it.
const maxCreateAttempts = 2

// canTransition is the only place connection status transitions are
// decided: pending resolves once, to accepted or rejected.
func canTransition(from, to data.ConnectionStatus) bool {
	return from == data.ConnectionPending &&
		(to == data.ConnectionAccepted || to == data.ConnectionRejected)
}

// checkSend applies the gating rules for an existing connection.
func checkSend(conn *data.Connection, from string) error {
	if conn.BlockedBy != "" {
		return newError(CodeCannotMessage, "you cannot message this user")
	}
	switch conn.Status {
	case data.ConnectionAccepted:
		return nil
	case data.ConnectionRejected:
		return newError(CodeCannotMessage, "you cannot message this user")
	case data.ConnectionPending:
		if conn.Requester == from {
			return newError(CodeWaitForAcceptance, "wait for the user to accept your request")
		}
		// Replying does not accept the request implicitly.
		return newError(CodeRespondFirst, "accept or reject the request before replying")
	}
	return newError(CodeCannotMessage, "you cannot message this user")
}

// gate looks up the pair and decides whether from may message to. When
// no connection exists it creates a pending one with from as requester
// and reports created. A duplicate from a concurrent creator is recovered
// by reading the record that won.
func (s *Service) gate(ctx context.Context, from, to string) (conn *data.Connection, created bool, err error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		conn, err = s.conns.FindByPair(ctx, from, to)
		if err == nil {
			return conn, false, checkSend(conn, from)
		}
		if !errors.Is(err, data.ErrNotFound) {
			return nil, false, internalError("find connection", err)
		}

		conn, err = s.conns.CreatePending(ctx, from, to)
		if err == nil {
			return conn, true, nil
		}
		if !errors.Is(err, data.ErrDuplicate) {
			return nil, false, internalError("create connection", err)
		}
		s.log.WithField("from", from).WithField("to", to).Debug("connection create raced; re-reading")
	}
	return nil, false, internalError("create connection", errors.New("pair kept racing"))
}

// Respond applies the recipient's decision on a pending request.
func (s *Service) Respond(ctx context.Context, cmd RespondToRequest) (Outcome, error) {
	responder, requester, err := s.pair(cmd.From, cmd.To)
	if err != nil {
		return Outcome{}, err
	}
	if !canTransition(data.ConnectionPending, cmd.Decision) {
		return Outcome{}, newError(CodeInvalidRequest, "status must be accepted or rejected")
	}

	conn, err := s.conns.SetStatus(ctx, requester, responder, cmd.Decision)
	if err == nil {
		payload := responsePayload(responder, requester, conn.Status)
		s.log.WithField("requester", requester).WithField("responder", responder).
			WithField("status", conn.Status).Info("connection request resolved")
		return Outcome{Events: []events.Event{
			events.To(requester, events.RequestResponse, payload),
			events.To(responder, events.RequestResponse, payload),
		}}, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return Outcome{}, internalError("set connection status", err)
	}

	// Nothing pending in this orientation. A repeat of the decision already
	// taken is a no-op; anything else is reported.
	existing, err := s.conns.FindByPair(ctx, requester, responder)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return Outcome{}, newError(CodeNoPendingRequest, "no pending request from this user")
		}
		return Outcome{}, internalError("find connection", err)
	}
	if existing.Requester != requester || existing.Recipient != responder {
		return Outcome{}, newError(CodeNoPendingRequest, "no pending request from this user")
	}
	if existing.Status == cmd.Decision {
		return Outcome{Events: []events.Event{
			events.To(responder, events.RequestResponse, responsePayload(responder, requester, existing.Status)),
		}}, nil
	}
	return Outcome{}, newError(CodeInvalidTransition, "this request was already "+string(existing.Status))
}

func responsePayload(responder, requester string, status data.ConnectionStatus) map[string]any {
	return map[string]any{"from": responder, "to": requester, "status": string(status)}
}

// StatusView is the connection state of a pair as seen by one side.
type StatusView struct {
	Status      string
	IsRequester bool
	BlockedBy   string
}

// StatusNone is reported for a pair without a connection.
const StatusNone = "none"

// ConnectionStatus reports the state of the pair {me, other} from me's side.
func (s *Service) ConnectionStatus(ctx context.Context, me, other string) (StatusView, error) {
	me, other, err := s.pair(me, other)
	if err != nil {
		return StatusView{}, err
	}
	conn, err := s.conns.FindByPair(ctx, me, other)
	if errors.Is(err, data.ErrNotFound) {
		return StatusView{Status: StatusNone}, nil
	}
	if err != nil {
		return StatusView{}, internalError("find connection", err)
	}
	return StatusView{
		Status:      string(conn.Status),
		IsRequester: conn.Requester == me,
		BlockedBy:   conn.BlockedBy,
	}, nil
}

// SetBlocked suspends (block=true) or resumes messaging for the pair.
// Only the user who blocked may unblock.
func (s *Service) SetBlocked(ctx context.Context, me, other string, block bool) (StatusView, error) {
	me, other, err := s.pair(me, other)
	if err != nil {
		return StatusView{}, err
	}
	conn, err := s.conns.FindByPair(ctx, me, other)
	if errors.Is(err, data.ErrNotFound) {
		return StatusView{}, newError(CodeNotFound, "no connection with this user")
	}
	if err != nil {
		return StatusView{}, internalError("find connection", err)
	}

	blocker := ""
	switch {
	case block && conn.BlockedBy == me, !block && conn.BlockedBy == "":
		return viewOf(conn, me), nil
	case block && conn.BlockedBy != "":
		return StatusView{}, newError(CodeInvalidTransition, "this conversation is already blocked")
	case !block && conn.BlockedBy != me:
		return StatusView{}, newError(CodeInvalidTransition, "only the user who blocked can unblock")
	case block:
		blocker = me
	}

	conn, err = s.conns.SetBlocked(ctx, me, other, blocker)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return StatusView{}, newError(CodeNotFound, "no connection with this user")
		}
		return StatusView{}, internalError("set blocked", err)
	}
	s.log.WithField("phone", me).WithField("other", other).WithField("blocked", block).Info("connection block changed")
	return viewOf(conn, me), nil
}

func viewOf(conn *data.Connection, me string) StatusView {
	return StatusView{Status: string(conn.Status), IsRequester: conn.Requester == me, BlockedBy: conn.BlockedBy}
}
