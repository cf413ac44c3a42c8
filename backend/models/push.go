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

// PushKeys are the client-generated encryption keys of a push endpoint.
type PushKeys struct {
	P256dh string `json:"p256dh" db:"p256dh"`
	Auth   string `json:"auth" db:"auth"`
}

// PushSubscription is one device endpoint. Endpoint is unique across users.
type PushSubscription struct {
	UserID    string    `json:"userId" db:"user_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	Keys      PushKeys  `json:"keys"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// PushPayload is the JSON document delivered to the service worker.
type PushPayload struct {
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Tag         string       `json:"tag"`
	URL         string       `json:"url"`
	ChannelID   string       `json:"channelId"`
	WorkspaceID string       `json:"workspaceId"`
	Actions     []PushAction `json:"actions,omitempty"`
}

// DefaultPushActions is the open/dismiss pair every notification offers.
var DefaultPushActions = []PushAction{
	{Action: "open", Title: "Open"},
	{Action: "dismiss", Title: "Dismiss"},
}
