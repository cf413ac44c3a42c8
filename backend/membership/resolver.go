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

// Package membership decides which rooms a user may receive broadcasts for.
//
// The rule is the same everywhere: a workspace member sees every public
// channel of that workspace; a private or direct channel additionally needs
// an explicit channel membership row.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/storage"
)

// Store is the subset of persistence the resolver reads.
type Store interface {
	storage.WorkspaceStore
	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)
	ListWorkspaceChannels(ctx context.Context, workspaceID string) ([]models.Channel, error)
	GetChannelMember(ctx context.Context, channelID, userID string) (*models.ChannelMember, error)
	ListUserChannelMemberships(ctx context.Context, userID string) ([]models.ChannelMember, error)
}

// Rooms is the set of scopes a connection is entitled to at one instant.
type Rooms struct {
	WorkspaceIDs []string
	ChannelIDs   []string
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveInitialRooms lists every workspace and visible channel for userID.
func (r *Resolver) ResolveInitialRooms(ctx context.Context, userID string) (Rooms, error) {
	var rooms Rooms

	workspaces, err := r.store.ListUserWorkspaces(ctx, userID)
	if err != nil {
		return rooms, fmt.Errorf("list workspaces: %w", err)
	}

	memberships, err := r.store.ListUserChannelMemberships(ctx, userID)
	if err != nil {
		return rooms, fmt.Errorf("list channel memberships: %w", err)
	}
	joined := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		joined[m.ChannelID] = struct{}{}
	}

	for _, ws := range workspaces {
		rooms.WorkspaceIDs = append(rooms.WorkspaceIDs, ws.ID)

		channels, err := r.store.ListWorkspaceChannels(ctx, ws.ID)
		if err != nil {
			return rooms, fmt.Errorf("list channels of %s: %w", ws.ID, err)
		}
		for _, ch := range channels {
			if visible(&ch, joined) {
				rooms.ChannelIDs = append(rooms.ChannelIDs, ch.ID)
			}
		}
	}

	return rooms, nil
}

// AccessibleChannels lists the channels of one workspace userID may read. It
// returns nil when the user is not a workspace member.
func (r *Resolver) AccessibleChannels(ctx context.Context, userID, workspaceID string) ([]models.Channel, error) {
	ok, err := r.CanJoinWorkspace(ctx, userID, workspaceID)
	if err != nil || !ok {
		return nil, err
	}

	memberships, err := r.store.ListUserChannelMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list channel memberships: %w", err)
	}
	joined := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		joined[m.ChannelID] = struct{}{}
	}

	channels, err := r.store.ListWorkspaceChannels(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels of %s: %w", workspaceID, err)
	}

	var out []models.Channel
	for _, ch := range channels {
		if visible(&ch, joined) {
			out = append(out, ch)
		}
	}
	return out, nil
}

// CanJoinWorkspace reports whether userID is a member of workspaceID.
func (r *Resolver) CanJoinWorkspace(ctx context.Context, userID, workspaceID string) (bool, error) {
	_, err := r.store.GetWorkspaceMember(ctx, workspaceID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("workspace membership: %w", err)
	}
	return true, nil
}

// CanJoinChannel re-derives channel visibility for one channel. An unknown
// channel is simply not joinable.
func (r *Resolver) CanJoinChannel(ctx context.Context, userID, channelID string) (bool, error) {
	ch, err := r.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load channel: %w", err)
	}
	return r.CanAccess(ctx, userID, ch)
}

// CanAccess applies the visibility rule to an already loaded channel.
func (r *Resolver) CanAccess(ctx context.Context, userID string, ch *models.Channel) (bool, error) {
	if ch.Public() {
		return r.CanJoinWorkspace(ctx, userID, ch.WorkspaceID)
	}

	_, err := r.store.GetChannelMember(ctx, ch.ID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("channel membership: %w", err)
	}
	return true, nil
}

// IsWorkspaceAdmin reports whether userID holds the ADMIN role in workspaceID.
func (r *Resolver) IsWorkspaceAdmin(ctx context.Context, userID, workspaceID string) (bool, error) {
	m, err := r.store.GetWorkspaceMember(ctx, workspaceID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("workspace membership: %w", err)
	}
	return m.Role == models.RoleAdmin, nil
}

func visible(ch *models.Channel, joined map[string]struct{}) bool {
	if ch.Public() {
		return true
	}
	_, ok := joined[ch.ID]
	return ok
}
