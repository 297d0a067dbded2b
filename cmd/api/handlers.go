package main

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/auth"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/normalize"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	minPasswordLength = 6
	maxNameLength     = 64

	defaultHistoryLimit = 100
)

// Register handles user registration: hashes password, stores user, returns JWT token
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := requestFields(req)
	name := strings.TrimSpace(stringField(in, "name"))
	phone := normalize.Phone(stringField(in, "phone"))
	password := stringField(in, "password")

	switch {
	case name == "" || utf8.RuneCountInString(name) > maxNameLength:
		return nil, status.Errorf(codes.InvalidArgument, "name is required (max %d characters)", maxNameLength)
	case !normalize.ValidPhone(phone):
		return nil, status.Errorf(codes.InvalidArgument, "invalid phone number")
	case len(password) < minPasswordLength:
		return nil, status.Errorf(codes.InvalidArgument, "password must be at least %d characters", minPasswordLength)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to hash password")
	}

	user, err := s.users.CreateUser(ctx, name, phone, hashed)
	if errors.Is(err, data.ErrUserExists) {
		return nil, status.Errorf(codes.AlreadyExists, "phone number already registered")
	}
	if err != nil {
		s.log.WithError(err).WithField("phone", phone).Error("create user failed")
		return nil, status.Errorf(codes.Internal, "failed to create user")
	}

	return s.tokenResponse(user)
}

// Login authenticates a user and returns a JWT token
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := requestFields(req)
	phone := normalize.Phone(stringField(in, "phone"))

	user, err := s.users.GetUserByPhone(ctx, phone)
	if errors.Is(err, data.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "user not found")
	}
	if err != nil {
		s.log.WithError(err).WithField("phone", phone).Error("lookup user failed")
		return nil, status.Errorf(codes.Internal, "failed to look up user")
	}

	if err := auth.CheckPassword(user.Password, stringField(in, "password")); err != nil {
		return nil, status.Errorf(codes.PermissionDenied, "invalid credentials")
	}

	return s.tokenResponse(user)
}

func (s *Server) tokenResponse(user *data.User) (*structpb.Struct, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Phone)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to generate token")
	}
	return structpb.NewStruct(map[string]any{
		"token":     token,
		"userId":    user.ID.Hex(),
		"phone":     user.Phone,
		"name":      user.Name,
		"expiresAt": events.Timestamp(expiresAt),
	})
}

// GetConnectionStatus reports the caller's connection with {phone}.
func (s *Server) GetConnectionStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	view, err := s.chat.ConnectionStatus(ctx, claims.Phone, stringField(requestFields(req), "phone"))
	if err != nil {
		return nil, rpcError(err)
	}
	return structpb.NewStruct(statusViewPayload(view))
}

// SetBlocked blocks ({blocked: true}, the default) or unblocks {phone}.
func (s *Server) SetBlocked(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	in := requestFields(req)
	view, err := s.chat.SetBlocked(ctx, claims.Phone, stringField(in, "phone"), boolField(in, "blocked", true))
	if err != nil {
		return nil, rpcError(err)
	}
	return structpb.NewStruct(statusViewPayload(view))
}

// DeleteChat removes the caller's connection and conversation with {phone}.
func (s *Server) DeleteChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	res, err := s.chat.DeleteChat(ctx, claims.Phone, stringField(requestFields(req), "phone"))
	if err != nil {
		return nil, rpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"connections": res.Connections,
		"messages":    res.Messages,
	})
}

// GetHistory streams the conversation with {phone}, oldest first.
func (s *Server) GetHistory(req *structpb.Struct, stream ChatService_GetHistoryServer) error {
	claims, ok := getClaimsFromContext(stream.Context())
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	in := requestFields(req)
	msgs, err := s.chat.History(stream.Context(), claims.Phone, stringField(in, "phone"), intField(in, "limit", defaultHistoryLimit))
	if err != nil {
		return rpcError(err)
	}

	for _, m := range msgs {
		out, err := structpb.NewStruct(events.Message(m))
		if err != nil {
			return status.Errorf(codes.Internal, "failed to encode message")
		}
		if err := stream.Send(out); err != nil {
			return status.Errorf(codes.Internal, "failed to send message: %v", err)
		}
	}
	return nil
}

// ListChats streams recent chat partners for the authenticated user
func (s *Server) ListChats(req *structpb.Struct, stream ChatService_ListChatsServer) error {
	claims, ok := getClaimsFromContext(stream.Context())
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	partners, err := s.chat.RecentChats(stream.Context(), claims.Phone, intField(requestFields(req), "limit", 0))
	if err != nil {
		return rpcError(err)
	}

	for _, p := range partners {
		out, err := structpb.NewStruct(partnerPayload(p))
		if err != nil {
			return status.Errorf(codes.Internal, "failed to encode chat")
		}
		if err := stream.Send(out); err != nil {
			return status.Errorf(codes.Internal, "failed to send partner: %v", err)
		}
	}
	return nil
}

func statusViewPayload(v chat.StatusView) map[string]any {
	return map[string]any{
		"status":      v.Status,
		"isRequester": v.IsRequester,
		"blockedBy":   v.BlockedBy,
	}
}

func partnerPayload(p *data.ChatPartner) map[string]any {
	return map[string]any{
		"phone":           p.Phone,
		"lastMessage":     p.LastMessage,
		"lastMessageTime": events.Timestamp(p.LastMessageTime),
	}
}

// rpcError maps a core error onto a gRPC status.
func rpcError(err error) error {
	var code codes.Code
	switch chat.ErrorCode(err) {
	case chat.CodeWaitForAcceptance, chat.CodeCannotMessage, chat.CodeRespondFirst, chat.CodeInvalidTransition:
		code = codes.FailedPrecondition
	case chat.CodeNoPendingRequest, chat.CodeNotFound:
		code = codes.NotFound
	case chat.CodeInvalidRequest:
		code = codes.InvalidArgument
	case chat.CodeRateLimited:
		code = codes.ResourceExhausted
	default:
		code = codes.Internal
	}
	return status.Error(code, chat.PublicMessage(err))
}
