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

// User is the minimal identity record the realtime core works with.
// Accounts are owned by the identity subsystem; this core never writes them.
type User struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"displayName" db:"display_name"`
	AvatarURL   string `json:"avatarUrl,omitempty" db:"avatar_url"`
}

// Workspace is a named tenant and the root of the room hierarchy.
type Workspace struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	InviteCode string    `json:"inviteCode,omitempty" db:"invite_code"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Channel belongs to exactly one workspace. A direct channel is always private
// and its membership is fixed when it is created.
type Channel struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspaceId" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	IsPrivate   bool      `json:"isPrivate" db:"is_private"`
	IsDirect    bool      `json:"isDirect" db:"is_direct"`
	GroupID     *string   `json:"groupId,omitempty" db:"group_id"`
	Position    int       `json:"position" db:"position"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Public reports whether workspace membership alone grants access.
func (c *Channel) Public() bool {
	return !c.IsPrivate && !c.IsDirect
}
