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

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efchatnet/efteam/backend/auth"
	"github.com/efchatnet/efteam/backend/membership"
	"github.com/efchatnet/efteam/backend/middleware"
	"github.com/efchatnet/efteam/backend/models"
)

// RoomResolver is the part of the membership resolver the gateway consults.
type RoomResolver interface {
	ResolveInitialRooms(ctx context.Context, userID string) (membership.Rooms, error)
	CanJoinChannel(ctx context.Context, userID, channelID string) (bool, error)
	CanJoinWorkspace(ctx context.Context, userID, workspaceID string) (bool, error)
}

// Session is one authenticated connection plus the room snapshot taken when
// it connected. The snapshot is never re-queried.
type Session struct {
	User  *models.User
	Conn  *Connection
	Rooms membership.Rooms
}

// Gateway owns the lifecycle of websocket connections.
type Gateway struct {
	verifier middleware.IdentityVerifier
	resolver RoomResolver
	hub      *Hub
	relay    *Relay
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewGateway(verifier middleware.IdentityVerifier, resolver RoomResolver, hub *Hub, relay *Relay, allowedOrigins []string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier: verifier,
		resolver: resolver,
		hub:      hub,
		relay:    relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		logger: logger,
	}
}

// Authenticate verifies the handshake credential. Errors wrap one of the
// auth sentinels when the credential itself is at fault.
func (g *Gateway) Authenticate(ctx context.Context, credential string) (*models.User, error) {
	return g.verifier.Verify(ctx, credential)
}

// OnConnect resolves the user's rooms, registers conn and joins it to its
// personal room and every resolved workspace and channel room. Nothing is
// registered if resolution fails.
func (g *Gateway) OnConnect(ctx context.Context, user *models.User, conn *Connection) (*Session, error) {
	rooms, err := g.resolver.ResolveInitialRooms(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve rooms for %s: %w", user.ID, err)
	}

	g.hub.Attach(conn)
	g.hub.Join(UserRoom(user.ID), conn)
	for _, id := range rooms.WorkspaceIDs {
		g.hub.Join(WorkspaceRoom(id), conn)
	}
	for _, id := range rooms.ChannelIDs {
		g.hub.Join(ChannelRoom(id), conn)
	}

	g.logger.Info("connection established",
		"user_id", user.ID,
		"conn_id", conn.ID,
		"workspaces", len(rooms.WorkspaceIDs),
		"channels", len(rooms.ChannelIDs))

	return &Session{User: user, Conn: conn, Rooms: rooms}, nil
}

// OnDisconnect announces the user offline to the snapshot's workspace rooms
// and releases every room membership of the connection.
func (g *Gateway) OnDisconnect(s *Session) {
	if err := g.relay.PresenceUpdate(s, "offline"); err != nil {
		g.logger.Warn("offline presence", "user_id", s.User.ID, "error", err)
	}
	g.hub.Detach(s.Conn)
	g.logger.Info("connection closed", "user_id", s.User.ID, "conn_id", s.Conn.ID)
}

// ServeHTTP authenticates, upgrades and then runs the read loop until the
// client goes away. Authentication failures are answered before upgrading.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := r.URL.Query().Get("token")
	if credential == "" {
		if token, err := auth.BearerToken(r.Header.Get("Authorization")); err == nil {
			credential = token
		}
	}

	user, err := g.Authenticate(r.Context(), credential)
	if err != nil {
		g.rejectHandshake(w, err)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		g.logger.Debug("websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	// Events are dispatched inline by the read loop, so nothing outlives it.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := NewConnection(user.ID, ws)
	session, err := g.OnConnect(ctx, user, conn)
	if err != nil {
		g.logger.Error("connect failed", "user_id", user.ID, "error", err)
		conn.Close(websocket.CloseInternalServerErr, "room resolution failed")
		return
	}
	defer func() {
		g.OnDisconnect(session)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	g.readLoop(ctx, session, ws)
}

func (g *Gateway) readLoop(ctx context.Context, s *Session, ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				g.logger.Debug("websocket read", "conn_id", s.Conn.ID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.logger.Debug("malformed frame", "conn_id", s.Conn.ID, "error", err)
			continue
		}

		if err := g.Dispatch(ctx, s, env); err != nil {
			g.logger.Warn("dropped event",
				"event", env.Event,
				"user_id", s.User.ID,
				"conn_id", s.Conn.ID,
				"error", err)
		}
	}
}

// Dispatch handles one client event. A returned error means the event was
// dropped; the connection stays open regardless.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, env Envelope) error {
	switch env.Event {
	case EventChannelJoin:
		channelID := decodeID(env.Data, "channelId")
		if channelID == "" {
			return errors.New("missing channelId")
		}
		ok, err := g.resolver.CanJoinChannel(ctx, s.User.ID, channelID)
		if err != nil {
			return err
		}
		// Unauthorized joins are ignored without telling the client.
		if ok {
			g.hub.Join(ChannelRoom(channelID), s.Conn)
		}
		return nil

	case EventChannelLeave:
		channelID := decodeID(env.Data, "channelId")
		if channelID == "" {
			return errors.New("missing channelId")
		}
		g.hub.Leave(ChannelRoom(channelID), s.Conn)
		return nil

	case EventWorkspaceJoin:
		workspaceID := decodeID(env.Data, "workspaceId")
		if workspaceID == "" {
			return errors.New("missing workspaceId")
		}
		ok, err := g.resolver.CanJoinWorkspace(ctx, s.User.ID, workspaceID)
		if err != nil {
			return err
		}
		if ok {
			g.hub.Join(WorkspaceRoom(workspaceID), s.Conn)
		}
		return nil

	case EventTypingStart, EventTypingStop:
		channelID := decodeID(env.Data, "channelId")
		err := g.relay.Typing(s, channelID, env.Event == EventTypingStart)
		if errors.Is(err, ErrNotInChannel) {
			return nil
		}
		return err

	case EventPresenceUpdate:
		return g.relay.PresenceUpdate(s, decodeID(env.Data, "status"))

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

func (g *Gateway) rejectHandshake(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUnknownUser):
		http.Error(w, "Unauthorized: user not found", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInvalidCredential):
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
	default:
		g.logger.Error("handshake identity lookup", "error", err)
		http.Error(w, "Authentication unavailable", http.StatusInternalServerError)
	}
}
