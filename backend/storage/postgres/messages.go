// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efteam/backend/models"
)

const messageColumns = `m.id, m.channel_id, m.author_id, m.content, m.parent_id, m.created_at, m.updated_at,
	u.display_name, u.avatar_url,
	(SELECT COUNT(*) FROM messages r WHERE r.parent_id = m.id)`

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var parentID, displayName, avatar sql.NullString

	err := row.Scan(&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &parentID,
		&msg.CreatedAt, &msg.UpdatedAt, &displayName, &avatar, &msg.ReplyCount)
	if err != nil {
		return msg, err
	}
	if parentID.Valid {
		msg.ParentID = &parentID.String
	}
	if displayName.Valid {
		msg.Author = &models.User{ID: msg.AuthorID, DisplayName: displayName.String, AvatarURL: avatar.String}
	}
	msg.Attachments = []models.Attachment{}
	return msg, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, content, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, msg.ParentID, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments (id, message_id, url, name, mime_type, size)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			att.ID, msg.ID, att.URL, att.Name, att.MimeType, att.Size)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.id = $1`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		return nil, notFound(err)
	}

	msgs := []models.Message{msg}
	if err := s.loadAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// UpdateMessageContent has no version check; concurrent edits are last-write-wins.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID, content string, at time.Time) (*models.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = $2, updated_at = $3
		WHERE id = $1`,
		messageID, content, at)
	if err != nil {
		return nil, err
	}
	if err := rowsAffected(res); err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, messageID)
}

// DeleteMessage removes the message; replies and attachments cascade.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

func (s *Store) ListTopLevel(ctx context.Context, channelID, cursor string, limit int) ([]models.Message, error) {
	// Row comparison on (created_at, id) keeps the cursor stable when
	// timestamps collide.
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.channel_id = $1 AND m.parent_id IS NULL
		  AND ($2 = '' OR (m.created_at, m.id) < (
			SELECT c.created_at, c.id FROM messages c WHERE c.id = $2
		  ))
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3`,
		channelID, cursor, limit)
}

func (s *Store) ListReplies(ctx context.Context, parentID string) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.parent_id = $1
		ORDER BY m.created_at ASC, m.id ASC`,
		parentID)
}

func (s *Store) SearchMessages(ctx context.Context, query models.SearchQuery) ([]models.Message, error) {
	if len(query.ChannelIDs) == 0 {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.author_id
		WHERE m.channel_id = ANY($1)
		  AND m.content ILIKE '%' || $2 || '%' ESCAPE '\'
		  AND ($3 = '' OR m.author_id = $3)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $4`,
		pq.Array(query.ChannelIDs), escapeLike(query.Query), query.AuthorID, limit)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadAttachments fills Attachments in place with one query for the batch
func (s *Store) loadAttachments(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	index := make(map[string]int, len(messages))
	ids := make([]string, 0, len(messages))
	for i := range messages {
		index[messages[i].ID] = i
		ids = append(ids, messages[i].ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, url, name, mime_type, size
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY id`,
		pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.ID, &att.MessageID, &att.URL, &att.Name, &att.MimeType, &att.Size); err != nil {
			return err
		}
		if i, ok := index[att.MessageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, att)
		}
	}
	return rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
