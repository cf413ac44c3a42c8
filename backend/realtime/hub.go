// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster is the room-broadcast primitive used by the rest of the core.
// except, when non-empty, is a connection id that must not receive the event.
type Broadcaster interface {
	Broadcast(room Room, event string, data any, except string)
}

// Hub tracks live connections on this instance and the rooms they joined.
// Any number of connections may belong to the same user.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection          // connID -> connection
	rooms     map[Room]map[string]*Connection // room -> connID -> connection
	connRooms map[string]map[Room]struct{}    // connID -> rooms

	logger *slog.Logger
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:     make(map[string]*Connection),
		rooms:     make(map[Room]map[string]*Connection),
		connRooms: make(map[string]map[Room]struct{}),
		logger:    logger,
	}
}

// Attach registers a connection and starts its write loop.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[Room]struct{})
	h.mu.Unlock()

	conn.Start()
}

// Detach removes the connection from every room it joined. Delivery to it
// stops as soon as Detach returns.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	for room := range h.connRooms[conn.ID] {
		h.leaveLocked(room, conn.ID)
	}
	delete(h.connRooms, conn.ID)
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}

// Join adds the connection to room. It reports false when the connection is
// unknown or already in the room, so repeated joins change nothing.
func (h *Hub) Join(room Room, conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	memberships, ok := h.connRooms[conn.ID]
	if !ok {
		return false
	}
	if _, already := memberships[room]; already {
		return false
	}

	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn
	memberships[room] = struct{}{}
	return true
}

// Leave removes the connection from room.
func (h *Hub) Leave(room Room, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(room, conn.ID)
	h.mu.Unlock()
}

// InRoom reports whether connID has joined room on this instance.
func (h *Hub) InRoom(room Room, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connRooms[connID][room]
	return ok
}

// RoomSize is the number of local connections in room.
func (h *Hub) RoomSize(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns a copy of the rooms connID has joined.
func (h *Hub) Rooms(connID string) []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Room, 0, len(h.connRooms[connID]))
	for room := range h.connRooms[connID] {
		out = append(out, room)
	}
	return out
}

// Broadcast encodes the event once and delivers it to the room.
func (h *Hub) Broadcast(room Room, event string, data any, except string) {
	payload, err := Encode(event, data)
	if err != nil {
		h.logger.Error("encode event", "event", event, "room", room.String(), "error", err)
		return
	}
	h.Deliver(room, payload, except)
}

// Deliver writes an already encoded payload to every connection in room and
// returns how many accepted it. A failing connection never affects the rest.
func (h *Hub) Deliver(room Room, payload []byte, except string) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.rooms[room]))
	for id, conn := range h.rooms[room] {
		if except != "" && id == except {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			h.logger.Debug("drop event for connection", "conn_id", conn.ID, "room", room.String(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.rooms = make(map[Room]map[string]*Connection)
	h.connRooms = make(map[string]map[Room]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) leaveLocked(room Room, connID string) {
	if members := h.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if memberships, ok := h.connRooms[connID]; ok {
		delete(memberships, room)
	}
}
