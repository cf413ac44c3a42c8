// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import "time"

// Message is a channel message. Replies reference a top-level message in the
// same channel through ParentID; a reply never has replies of its own.
type Message struct {
	ID          string       `json:"id" db:"id"`
	ChannelID   string       `json:"channelId" db:"channel_id"`
	AuthorID    string       `json:"authorId" db:"author_id"`
	Author      *User        `json:"author,omitempty"`
	Content     string       `json:"content" db:"content"`
	ParentID    *string      `json:"parentId" db:"parent_id"`
	Attachments []Attachment `json:"attachments"`
	ReplyCount  int          `json:"replyCount"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time    `json:"updatedAt" db:"updated_at"`
}

// Edited reports whether the content was changed after creation.
func (m *Message) Edited() bool {
	return !m.UpdatedAt.Equal(m.CreatedAt)
}

// IsReply reports whether the message belongs to a thread.
func (m *Message) IsReply() bool {
	return m.ParentID != nil
}

// Attachment is immutable once created. Uploads happen elsewhere; only the
// resulting object reference is stored here.
type Attachment struct {
	ID        string `json:"id" db:"id"`
	MessageID string `json:"messageId" db:"message_id"`
	URL       string `json:"url" db:"url"`
	Name      string `json:"name" db:"name"`
	MimeType  string `json:"mimeType" db:"mime_type"`
	Size      int64  `json:"size" db:"size"`
}

// MessagePage is one page of top-level history in chronological order.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor *string   `json:"nextCursor"`
}

// SearchQuery restricts a content search to the given channels.
type SearchQuery struct {
	ChannelIDs []string
	Query      string
	AuthorID   string
	Limit      int
}
