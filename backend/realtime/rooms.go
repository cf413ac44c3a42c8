// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"fmt"
	"strings"
)

// Scope is the kind of entity a room is keyed by.
type Scope uint8

const (
	ScopeWorkspace Scope = iota + 1
	ScopeChannel
	ScopeUser
)

func (s Scope) String() string {
	switch s {
	case ScopeWorkspace:
		return "workspace"
	case ScopeChannel:
		return "channel"
	case ScopeUser:
		return "user"
	default:
		return "unknown"
	}
}

// Room addresses a broadcast group. Two rooms are equal only if both scope and
// id match, so a channel and a user sharing an id never collide.
type Room struct {
	Scope Scope
	ID    string
}

func WorkspaceRoom(workspaceID string) Room { return Room{Scope: ScopeWorkspace, ID: workspaceID} }
func ChannelRoom(channelID string) Room     { return Room{Scope: ScopeChannel, ID: channelID} }
func UserRoom(userID string) Room           { return Room{Scope: ScopeUser, ID: userID} }

// String is the wire form used on the fan-out bus.
func (r Room) String() string {
	return r.Scope.String() + ":" + r.ID
}

// ParseRoom is the inverse of Room.String.
func ParseRoom(s string) (Room, error) {
	scope, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Room{}, fmt.Errorf("realtime: malformed room %q", s)
	}
	switch scope {
	case "workspace":
		return WorkspaceRoom(id), nil
	case "channel":
		return ChannelRoom(id), nil
	case "user":
		return UserRoom(id), nil
	}
	return Room{}, fmt.Errorf("realtime: unknown room scope %q", scope)
}
