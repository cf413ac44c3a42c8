// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"encoding/json"
	"strings"

	"github.com/efchatnet/efteam/backend/models"
)

// Client to server events
const (
	EventChannelJoin    = "channel:join"
	EventChannelLeave   = "channel:leave"
	EventWorkspaceJoin  = "workspace:join"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventPresenceUpdate = "presence:update"
)

// Server to client events
const (
	EventPresenceUpdated = "presence:updated"
	EventMessageNew      = "message:new"
	EventMessageReply    = "message:reply"
	EventMessageUpdated  = "message:updated"
	EventMessageDeleted  = "message:deleted"
	EventMention         = "mention"
	EventDMCreated       = "dm:created"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode frames data under event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type TypingStarted struct {
	ChannelID string       `json:"channelId"`
	User      *models.User `json:"user"`
}

type TypingStopped struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

type PresenceUpdated struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type MessageReply struct {
	ParentID string          `json:"parentId"`
	Message  *models.Message `json:"message"`
}

type MessageDeleted struct {
	MessageID string  `json:"messageId"`
	ParentID  *string `json:"parentId"`
}

type Mention struct {
	ChannelID   string          `json:"channelId"`
	WorkspaceID string          `json:"workspaceId"`
	Message     *models.Message `json:"message"`
	MentionedBy *models.User    `json:"mentionedBy"`
}

// decodeID accepts either a bare JSON string or an object carrying key.
func decodeID(raw json.RawMessage, key string) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
