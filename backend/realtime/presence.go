// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"errors"
	"log/slog"
	"strings"
)

const maxStatusLength = 64

var (
	ErrNotInChannel  = errors.New("realtime: connection has not joined channel")
	ErrInvalidStatus = errors.New("realtime: invalid presence status")
)

// Relay forwards ephemeral typing and presence signals. It keeps no state;
// scoping comes from the hub's room registry and the session snapshot.
type Relay struct {
	hub    *Hub
	bcast  Broadcaster
	logger *slog.Logger
}

func NewRelay(hub *Hub, bcast Broadcaster, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if bcast == nil {
		bcast = hub
	}
	return &Relay{hub: hub, bcast: bcast, logger: logger}
}

// Typing relays a start or stop signal to the channel room, skipping the
// sender's connection. Repeated starts are forwarded unchanged.
func (r *Relay) Typing(s *Session, channelID string, start bool) error {
	room := ChannelRoom(channelID)
	if channelID == "" || !r.hub.InRoom(room, s.Conn.ID) {
		return ErrNotInChannel
	}

	if start {
		r.bcast.Broadcast(room, EventTypingStart, TypingStarted{ChannelID: channelID, User: s.User}, s.Conn.ID)
	} else {
		r.bcast.Broadcast(room, EventTypingStop, TypingStopped{ChannelID: channelID, UserID: s.User.ID}, s.Conn.ID)
	}
	return nil
}

// PresenceUpdate broadcasts status to every workspace room captured when the
// session connected.
func (r *Relay) PresenceUpdate(s *Session, status string) error {
	status = strings.TrimSpace(status)
	if status == "" || len(status) > maxStatusLength {
		return ErrInvalidStatus
	}

	payload := PresenceUpdated{UserID: s.User.ID, Status: status}
	for _, workspaceID := range s.Rooms.WorkspaceIDs {
		r.bcast.Broadcast(WorkspaceRoom(workspaceID), EventPresenceUpdated, payload, s.Conn.ID)
	}
	r.logger.Debug("presence updated", "user_id", s.User.ID, "status", status, "workspaces", len(s.Rooms.WorkspaceIDs))
	return nil
}
