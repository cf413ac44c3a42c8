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

// Package chat owns message history: creation, edits, deletion, read
// markers, cursor pagination and one-level threads.
//
// Every mutation is written to the store first and broadcast afterwards, so
// a failed write never produces an event.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/efchatnet/efteam/backend/apperr"
	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/realtime"
	"github.com/efchatnet/efteam/backend/storage"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	MinSearchLength    = 2
	DefaultSearchLimit = 50
)

// Access is the visibility policy the engine enforces.
type Access interface {
	CanAccess(ctx context.Context, userID string, ch *models.Channel) (bool, error)
	CanJoinWorkspace(ctx context.Context, userID, workspaceID string) (bool, error)
	AccessibleChannels(ctx context.Context, userID, workspaceID string) ([]models.Channel, error)
	IsWorkspaceAdmin(ctx context.Context, userID, workspaceID string) (bool, error)
}

// MentionProcessor reacts to a freshly created message. It must not block on
// push delivery.
type MentionProcessor interface {
	Process(ctx context.Context, channel *models.Channel, msg *models.Message, actor *models.User)
}

type Service struct {
	store    storage.Store
	access   Access
	bcast    realtime.Broadcaster
	mentions MentionProcessor
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the engine. mentions may be nil.
func NewService(store storage.Store, access Access, bcast realtime.Broadcaster, mentions MentionProcessor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		access:   access,
		bcast:    bcast,
		mentions: mentions,
		logger:   logger,
		now: func() time.Time {
			// Postgres keeps microseconds.
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// channelFor loads a channel the actor may read.
func (s *Service) channelFor(ctx context.Context, actorID, channelID string) (*models.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("channel not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load channel", err)
	}

	ok, err := s.access.CanAccess(ctx, actorID, ch)
	if err != nil {
		return nil, apperr.Internal("failed to check channel access", err)
	}
	if !ok {
		return nil, apperr.Forbidden("not a member of this channel")
	}
	return ch, nil
}

func (s *Service) loadMessage(ctx context.Context, messageID string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load message", err)
	}
	return msg, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 1
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
