// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efchatnet/efteam/backend/apperr"
	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/realtime"
	"github.com/efchatnet/efteam/backend/storage"
)

// CreateInput is a new message as submitted by its author.
type CreateInput struct {
	ChannelID   string
	Content     string
	ParentID    string
	Attachments []models.Attachment
}

// ListTopLevel returns one page of top-level history in chronological order.
// cursor is the id of the oldest message the caller already has.
func (s *Service) ListTopLevel(ctx context.Context, actorID, channelID, cursor string, limit int) (*models.MessagePage, error) {
	if _, err := s.channelFor(ctx, actorID, channelID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	if cursor != "" {
		anchor, err := s.loadMessage(ctx, cursor)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Validation("unknown cursor")
		}
		if err != nil {
			return nil, err
		}
		if anchor.ChannelID != channelID || anchor.IsReply() {
			return nil, apperr.Validation("cursor does not belong to this channel")
		}
	}

	msgs, err := s.store.ListTopLevel(ctx, channelID, cursor, limit+1)
	if err != nil {
		return nil, apperr.Internal("failed to fetch messages", err)
	}

	page := &models.MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.HasMore = true
		page.Messages = msgs[:limit]
	}
	if page.HasMore {
		oldest := page.Messages[len(page.Messages)-1].ID
		page.NextCursor = &oldest
	}
	slices.Reverse(page.Messages)
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

// ListReplies returns every reply of a top-level message, oldest first.
func (s *Service) ListReplies(ctx context.Context, actorID, messageID string) ([]models.Message, error) {
	parent, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.channelFor(ctx, actorID, parent.ChannelID); err != nil {
		return nil, err
	}
	if parent.IsReply() {
		return nil, apperr.Validation("replies cannot have replies")
	}

	replies, err := s.store.ListReplies(ctx, messageID)
	if err != nil {
		return nil, apperr.Internal("failed to fetch replies", err)
	}
	if replies == nil {
		replies = []models.Message{}
	}
	return replies, nil
}

// Create validates and persists a message, then broadcasts it to the channel
// room and hands it to mention processing.
func (s *Service) Create(ctx context.Context, actor *models.User, in CreateInput) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Validation("content is required")
	}

	ch, err := s.channelFor(ctx, actor.ID, in.ChannelID)
	if err != nil {
		return nil, err
	}

	var parentID *string
	if in.ParentID != "" {
		parent, err := s.store.GetMessage(ctx, in.ParentID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, apperr.Validation("parent message not found")
		case err != nil:
			return nil, apperr.Internal("failed to load parent message", err)
		case parent.ChannelID != ch.ID:
			return nil, apperr.Validation("parent message belongs to another channel")
		case parent.IsReply():
			return nil, apperr.Validation("cannot reply to a reply")
		}
		parentID = &parent.ID
	}

	now := s.now()
	msg := &models.Message{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		AuthorID:  actor.ID,
		Content:   content,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, a := range in.Attachments {
		a.ID = uuid.NewString()
		a.MessageID = msg.ID
		msg.Attachments = append(msg.Attachments, a)
	}

	// From the write on, the request going away must not stop the reload,
	// the broadcast or mention processing.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperr.Internal("failed to create message", err)
	}

	created, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		// The write succeeded; broadcast what we have.
		s.logger.Warn("reload created message", "message_id", msg.ID, "error", err)
		msg.Author = actor
		created = msg
	}

	room := realtime.ChannelRoom(ch.ID)
	if created.IsReply() {
		s.bcast.Broadcast(room, realtime.EventMessageReply, realtime.MessageReply{ParentID: *created.ParentID, Message: created}, "")
	} else {
		s.bcast.Broadcast(room, realtime.EventMessageNew, created, "")
	}

	if s.mentions != nil {
		s.mentions.Process(ctx, ch, created, actor)
	}

	s.logger.Debug("message created", "message_id", created.ID, "channel_id", ch.ID, "user_id", actor.ID)
	return created, nil
}

// Edit replaces the content of the actor's own message. Concurrent edits are
// last-write-wins.
func (s *Service) Edit(ctx context.Context, actorID, messageID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("content is required")
	}

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != actorID {
		return nil, apperr.Forbidden("only the author can edit this message")
	}

	at := s.now()
	if !at.After(msg.CreatedAt) {
		at = msg.CreatedAt.Add(time.Microsecond)
	}

	ctx = context.WithoutCancel(ctx)
	updated, err := s.store.UpdateMessageContent(ctx, messageID, content, at)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to update message", err)
	}

	s.bcast.Broadcast(realtime.ChannelRoom(updated.ChannelID), realtime.EventMessageUpdated, updated, "")
	return updated, nil
}

// Delete removes a message. The author and workspace admins may delete.
func (s *Service) Delete(ctx context.Context, actorID, messageID string) error {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.AuthorID != actorID {
		ch, err := s.store.GetChannel(ctx, msg.ChannelID)
		if err != nil {
			return apperr.Internal("failed to load channel", err)
		}
		admin, err := s.access.IsWorkspaceAdmin(ctx, actorID, ch.WorkspaceID)
		if err != nil {
			return apperr.Internal("failed to check role", err)
		}
		if !admin {
			return apperr.Forbidden("only the author or a workspace admin can delete this message")
		}
	}

	ctx = context.WithoutCancel(ctx)
	err = s.store.DeleteMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return apperr.Internal("failed to delete message", err)
	}

	s.bcast.Broadcast(realtime.ChannelRoom(msg.ChannelID), realtime.EventMessageDeleted,
		realtime.MessageDeleted{MessageID: msg.ID, ParentID: msg.ParentID}, "")
	return nil
}

// MarkRead moves the reader's lastRead marker to now. Nothing is broadcast.
func (s *Service) MarkRead(ctx context.Context, actorID, channelID string) error {
	if _, err := s.channelFor(ctx, actorID, channelID); err != nil {
		return err
	}
	if err := s.store.SetLastRead(ctx, channelID, actorID, s.now()); err != nil {
		return apperr.Internal("failed to mark channel read", err)
	}
	return nil
}
