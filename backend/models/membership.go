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

package models

import (
	"time"
)

// Role of a user inside a workspace
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

type WorkspaceMember struct {
	WorkspaceID string    `json:"workspaceId" db:"workspace_id"`
	UserID      string    `json:"userId" db:"user_id"`
	Role        Role      `json:"role" db:"role"`
	JoinedAt    time.Time `json:"joinedAt" db:"joined_at"`
}

// WorkspaceMemberProfile joins a membership row with the member's profile,
// used for mention resolution.
type WorkspaceMemberProfile struct {
	User
	Role Role `json:"role"`
}

// ChannelMember carries per-reader state. LastRead is the only input to
// unread counting; a fresh membership starts at the zero epoch.
type ChannelMember struct {
	ChannelID string    `json:"channelId" db:"channel_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Muted     bool      `json:"muted" db:"muted"`
	LastRead  time.Time `json:"lastRead" db:"last_read"`
	JoinedAt  time.Time `json:"joinedAt" db:"joined_at"`
}
