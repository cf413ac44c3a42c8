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
	"unicode/utf8"

	"github.com/efchatnet/efteam/backend/apperr"
	"github.com/efchatnet/efteam/backend/models"
)

// SearchInput narrows a workspace search. ChannelID and AuthorID are optional.
type SearchInput struct {
	WorkspaceID string
	Query       string
	ChannelID   string
	AuthorID    string
}

// Search does a case-insensitive substring match over the channels of the
// workspace the actor may read.
func (s *Service) Search(ctx context.Context, actorID string, in SearchInput) ([]models.Message, error) {
	query := strings.TrimSpace(in.Query)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return nil, apperr.Validation("search query must be at least %d characters", MinSearchLength)
	}

	channelIDs, err := s.readableChannelIDs(ctx, actorID, in.WorkspaceID)
	if err != nil {
		return nil, err
	}

	if in.ChannelID != "" {
		if !slices.Contains(channelIDs, in.ChannelID) {
			return []models.Message{}, nil
		}
		channelIDs = []string{in.ChannelID}
	}
	if len(channelIDs) == 0 {
		return []models.Message{}, nil
	}

	results, err := s.store.SearchMessages(ctx, models.SearchQuery{
		ChannelIDs: channelIDs,
		Query:      query,
		AuthorID:   in.AuthorID,
		Limit:      DefaultSearchLimit,
	})
	if err != nil {
		return nil, apperr.Internal("search failed", err)
	}
	if results == nil {
		results = []models.Message{}
	}
	return results, nil
}

// UnreadCounts reports, per readable channel, how many messages by other
// users arrived after the actor's lastRead marker.
func (s *Service) UnreadCounts(ctx context.Context, actorID, workspaceID string) (map[string]int, error) {
	channelIDs, err := s.readableChannelIDs(ctx, actorID, workspaceID)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.UnreadCounts(ctx, actorID, channelIDs)
	if err != nil {
		return nil, apperr.Internal("failed to count unread messages", err)
	}

	out := make(map[string]int, len(channelIDs))
	for _, id := range channelIDs {
		out[id] = counts[id]
	}
	return out, nil
}

func (s *Service) readableChannelIDs(ctx context.Context, actorID, workspaceID string) ([]string, error) {
	member, err := s.access.CanJoinWorkspace(ctx, actorID, workspaceID)
	if err != nil {
		return nil, apperr.Internal("failed to check workspace membership", err)
	}
	if !member {
		return nil, apperr.Forbidden("not a member of this workspace")
	}

	channels, err := s.access.AccessibleChannels(ctx, actorID, workspaceID)
	if err != nil {
		return nil, apperr.Internal("failed to list channels", err)
	}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	return ids, nil
}
