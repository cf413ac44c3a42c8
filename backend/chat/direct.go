// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/efchatnet/efteam/backend/apperr"
	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/realtime"
)

// OpenDirect returns the direct channel whose members are exactly the actor
// plus memberIDs, creating it when none exists. Creation emits dm:created to
// every participant's personal room. The bool reports whether it was created.
func (s *Service) OpenDirect(ctx context.Context, actor *models.User, workspaceID string, memberIDs []string) (*models.Channel, bool, error) {
	members := []string{actor.ID}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return nil, false, apperr.Validation("a direct message needs at least one other member")
	}
	slices.Sort(members)

	for _, id := range members {
		ok, err := s.access.CanJoinWorkspace(ctx, id, workspaceID)
		if err != nil {
			return nil, false, apperr.Internal("failed to check workspace membership", err)
		}
		if !ok {
			if id == actor.ID {
				return nil, false, apperr.Forbidden("not a member of this workspace")
			}
			return nil, false, apperr.Validation("user %s is not a member of this workspace", id)
		}
	}

	id := directChannelID(workspaceID, members)
	ch := models.Channel{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        "dm-" + id[:8],
		IsPrivate:   true,
		IsDirect:    true,
		CreatedAt:   s.now(),
	}
	created, err := s.store.CreateDirectChannel(ctx, ch, members)
	if err != nil {
		return nil, false, apperr.Internal("failed to create direct channel", err)
	}
	if !created {
		existing, err := s.store.GetChannel(ctx, id)
		if err != nil {
			return nil, false, apperr.Internal("failed to load direct channel", err)
		}
		return existing, false, nil
	}

	for _, id := range members {
		s.bcast.Broadcast(realtime.UserRoom(id), realtime.EventDMCreated, ch, "")
	}
	s.logger.Info("direct channel created", "channel_id", ch.ID, "workspace_id", workspaceID, "members", len(members))
	return &ch, true, nil
}

// directChannelID derives the channel id from the workspace and the sorted
// member set, so one member set maps to exactly one channel.
func directChannelID(workspaceID string, sortedMembers []string) string {
	key := workspaceID + "\n" + strings.Join(sortedMembers, "\n")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
