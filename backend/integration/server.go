// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package integration assembles the realtime core into an HTTP server that
// can run standalone or be mounted on an existing router.
package integration

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efteam/backend/auth"
	"github.com/efchatnet/efteam/backend/chat"
	"github.com/efchatnet/efteam/backend/config"
	"github.com/efchatnet/efteam/backend/handlers"
	"github.com/efchatnet/efteam/backend/membership"
	"github.com/efchatnet/efteam/backend/middleware"
	"github.com/efchatnet/efteam/backend/notify"
	"github.com/efchatnet/efteam/backend/push"
	"github.com/efchatnet/efteam/backend/realtime"
	"github.com/efchatnet/efteam/backend/storage"
)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the process-wide collaborators. Redis is required for the
// redis fan-out; Queue is required for the asynq push queue.
type Options struct {
	Config *config.Config
	Redis  *redis.Client
	Queue  *asynq.Client
	Logger *slog.Logger

	// PushSender replaces the VAPID sender, mainly for tests.
	PushSender push.Sender
}

// Server owns every component of the realtime core.
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger

	verifier *auth.Verifier
	hub      *realtime.Hub
	bus      *realtime.Bus
	gateway  *realtime.Gateway
	worker   *push.Worker
	chat     *chat.Service

	messages   *handlers.MessageHandler
	workspaces *handlers.WorkspaceHandler
	pushes     *handlers.PushHandler
}

// New wires the components around store.
func New(store storage.Store, opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("integration: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := realtime.NewHub(logger.With("component", "hub"))
	var bcast realtime.Broadcaster = hub
	var bus *realtime.Bus
	if cfg.Realtime.Fanout == config.FanoutRedis {
		if opts.Redis == nil {
			return nil, errors.New("integration: redis fan-out needs a redis client")
		}
		bus = realtime.NewBus(opts.Redis, hub, logger.With("component", "bus"))
		bcast = bus
	}

	sender := opts.PushSender
	if sender == nil && cfg.PushEnabled() {
		sender = push.NewVAPIDSender(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDSubject)
	}
	worker := push.NewWorker(store, sender, logger.With("component", "push"))

	var dispatcher notify.PushDispatcher
	switch {
	case !worker.Enabled():
	case cfg.Push.Queue == config.PushQueueAsynq:
		if opts.Queue == nil {
			return nil, errors.New("integration: asynq push queue needs a client")
		}
		dispatcher = push.NewQueueDispatcher(opts.Queue, logger.With("component", "push"))
	default:
		dispatcher = push.NewInlineDispatcher(worker, logger.With("component", "push"))
	}

	resolver := membership.NewResolver(store)
	mentions := notify.NewDispatcher(store, bcast, dispatcher, logger.With("component", "notify"))
	svc := chat.NewService(store, resolver, bcast, mentions, logger.With("component", "chat"))

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, store)
	relay := realtime.NewRelay(hub, bcast, logger.With("component", "relay"))
	gateway := realtime.NewGateway(verifier, resolver, hub, relay, cfg.AllowedOrigins, logger.With("component", "gateway"))

	publicKey := ""
	if cfg.PushEnabled() {
		publicKey = cfg.Push.VAPIDPublicKey
	}

	return &Server{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		verifier:   verifier,
		hub:        hub,
		bus:        bus,
		gateway:    gateway,
		worker:     worker,
		chat:       svc,
		messages:   handlers.NewMessageHandler(svc, logger),
		workspaces: handlers.NewWorkspaceHandler(svc, logger),
		pushes:     handlers.NewPushHandler(store, publicKey, logger),
	}, nil
}

// Handler returns a router with CORS and every route mounted.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))
	s.RegisterRoutes(r, nil)
	return r
}

// RegisterRoutes adds the core's routes to router. If authMiddleware is nil
// the built-in JWT verification is used.
func (s *Server) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	if authMiddleware == nil {
		authMiddleware = middleware.NewAuthMiddleware(s.verifier, s.logger)
	}

	router.HandleFunc("/health", s.health).Methods("GET")
	router.Handle("/ws", s.gateway).Methods("GET")
	router.HandleFunc("/api/push/public-key", s.pushes.PublicKey).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware)

	// Channel history
	api.HandleFunc("/channels/{channelId}/messages", s.messages.ListMessages).Methods("GET", "OPTIONS")
	api.HandleFunc("/channels/{channelId}/messages", s.messages.CreateMessage).Methods("POST", "OPTIONS")
	api.HandleFunc("/channels/{channelId}/read", s.messages.MarkRead).Methods("POST", "OPTIONS")

	// Single messages and threads
	api.HandleFunc("/messages/{messageId}/replies", s.messages.ListReplies).Methods("GET", "OPTIONS")
	api.HandleFunc("/messages/{messageId}", s.messages.EditMessage).Methods("PATCH", "OPTIONS")
	api.HandleFunc("/messages/{messageId}", s.messages.DeleteMessage).Methods("DELETE", "OPTIONS")

	// Workspace scope
	api.HandleFunc("/workspaces/{workspaceId}/search", s.workspaces.Search).Methods("GET", "OPTIONS")
	api.HandleFunc("/workspaces/{workspaceId}/unread", s.workspaces.UnreadCounts).Methods("GET", "OPTIONS")
	api.HandleFunc("/workspaces/{workspaceId}/dm", s.workspaces.OpenDirect).Methods("POST", "OPTIONS")

	// Push subscriptions
	api.HandleFunc("/push/subscribe", s.pushes.Subscribe).Methods("POST", "OPTIONS")
	api.HandleFunc("/push/unsubscribe", s.pushes.Unsubscribe).Methods("POST", "OPTIONS")
}

// Run blocks running background loops until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return nil
	}
	return s.bus.Run(ctx)
}

// RegisterTasks installs the push worker's asynq handlers.
func (s *Server) RegisterTasks(mux *asynq.ServeMux) {
	s.worker.Register(mux)
}

// Close disconnects every live websocket.
func (s *Server) Close() {
	s.hub.Close()
}

// Hub exposes the local room registry.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
