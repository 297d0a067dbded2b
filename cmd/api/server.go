package main

import (
	"context"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/auth"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/presence"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// userStore is the subset of data.UsersStore used for accounts.
type userStore interface {
	CreateUser(ctx context.Context, name, phone, hashedPassword string) (*data.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*data.User, error)
}

// Server implements the chat service and contains references to stores and auth logic.
type Server struct {
	users    userStore
	chat     *chat.Service
	presence *presence.Registry
	hub      *ConnectionHub
	auth     *auth.JWTManager
	// events limits realtime events per identity; nil disables the limit
	events *middleware.LimiterStore
	log    *logrus.Entry

	// ping reports database health for /healthz
	ping func(context.Context) error
}

// newServer returns a ready-to-use Server wired with stores and auth manager.
func newServer(users userStore, svc *chat.Service, reg *presence.Registry, authMgr *auth.JWTManager, eventLimits *middleware.LimiterStore, log *logrus.Entry) *Server {
	return &Server{
		users:    users,
		chat:     svc,
		presence: reg,
		hub:      NewConnectionHub(),
		auth:     authMgr,
		events:   eventLimits,
		log:      log,
	}
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	RegisterChatServiceServer(s, srv)
}
