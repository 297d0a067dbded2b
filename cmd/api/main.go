package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/auth"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/chat"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/config"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/data"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/db"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/logging"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/middleware"
	"github.com/PaulBabatuyi/consentChat-gRPC/internal/presence"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	// Ensure indexes exist; the unique pair index is what serializes
	// connection creation.
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	// Create stores
	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	connsStore := data.NewConnectionsStore(dbClient.ConnectionsCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())
	chatsStore := data.NewChatsStore(dbClient.Mongo(), connsStore, msgsStore)

	// Multiple keys allow token rotation; a single secret is the fallback.
	var jwtMgr *auth.JWTManager
	if len(cfg.JWTKeys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.TokenTTL)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	}

	svc := chat.NewService(connsStore, msgsStore, chatsStore, usersStore, logger.WithField("component", "chat"))
	registry := presence.NewRegistry(usersStore, logger.WithField("component", "presence"))

	// Auth endpoints get a small burst to allow a couple of quick retries.
	authLimits := middleware.NewLimiterStore(cfg.AuthRatePerMinute, 3, time.Minute)
	defer authLimits.Stop()
	eventLimits := middleware.NewPerSecondLimiterStore(cfg.EventRatePerSecond, cfg.EventRatePerSecond, time.Minute)
	defer eventLimits.Stop()

	srv := newServer(usersStore, svc, registry, jwtMgr, eventLimits, logger.WithField("component", "api"))
	srv.ping = dbClient.Ping

	// chain unary interceptors: logging -> rate limiter -> auth
	var serverOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(logger.WithField("component", "rpc")),
			middleware.RateLimitUnaryInterceptor(authLimits, publicMethods),
			authUnaryInterceptor(jwtMgr),
		),
		grpc.ChainStreamInterceptor(authStreamInterceptor(jwtMgr)),
	)

	grpcServer := grpc.NewServer(serverOpts...)
	registerService(grpcServer, srv)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", lis.Addr().String()).Info("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled() {
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// Graceful shutdown on SIGINT/SIGTERM or when either server fails.
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			// Open Connect streams never finish on their own.
			grpcServer.Stop()
		}
		return err
	})

	return g.Wait()
}
