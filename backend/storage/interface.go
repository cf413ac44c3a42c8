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

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/efchatnet/efteam/backend/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("storage: not found")

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type WorkspaceStore interface {
	GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*models.WorkspaceMember, error)
	ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error)
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]models.WorkspaceMemberProfile, error)
}

type ChannelStore interface {
	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)
	ListWorkspaceChannels(ctx context.Context, workspaceID string) ([]models.Channel, error)

	// Channel membership
	GetChannelMember(ctx context.Context, channelID, userID string) (*models.ChannelMember, error)
	ListUserChannelMemberships(ctx context.Context, userID string) ([]models.ChannelMember, error)
	AddChannelMember(ctx context.Context, channelID, userID string) error
	SetLastRead(ctx context.Context, channelID, userID string, at time.Time) error

	// CreateDirectChannel inserts channel with memberIDs unless a channel with
	// the same id exists, and reports whether it was inserted.
	CreateDirectChannel(ctx context.Context, channel models.Channel, memberIDs []string) (bool, error)

	// UnreadCounts maps channel id to the number of messages newer than the
	// user's lastRead that someone else wrote. Channels without a membership
	// row for the user count from the zero epoch.
	UnreadCounts(ctx context.Context, userID string, channelIDs []string) (map[string]int, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, messageID, content string, at time.Time) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error

	// ListTopLevel returns at most limit top-level messages older than the
	// cursor message (or the newest ones when cursor is empty), ordered by
	// created_at DESC, id DESC.
	ListTopLevel(ctx context.Context, channelID, cursor string, limit int) ([]models.Message, error)
	ListReplies(ctx context.Context, parentID string) ([]models.Message, error)
	SearchMessages(ctx context.Context, query models.SearchQuery) ([]models.Message, error)
}

type PushStore interface {
	UpsertPushSubscription(ctx context.Context, sub models.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	DeleteUserPushSubscription(ctx context.Context, userID, endpoint string) error
}

type Store interface {
	UserStore
	WorkspaceStore
	ChannelStore
	MessageStore
	PushStore
}
