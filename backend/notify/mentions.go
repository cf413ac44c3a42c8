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

// Package notify turns @mentions into personal-room events and push
// notifications.
//
// Mentions are matched against display names, case-insensitively and as a
// whole name. There is no handle namespace: a display name with a space can
// never be mentioned, and members whose names collide are all notified.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/realtime"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

const maxPushBody = 140

// MemberLister is the persistence the dispatcher reads.
type MemberLister interface {
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]models.WorkspaceMemberProfile, error)
}

// PushDispatcher schedules a push notification without waiting for it.
type PushDispatcher interface {
	Dispatch(ctx context.Context, userID string, payload models.PushPayload)
}

type Dispatcher struct {
	members MemberLister
	bcast   realtime.Broadcaster
	push    PushDispatcher
	logger  *slog.Logger
}

// NewDispatcher builds the mention pipeline. push may be nil when the server
// has no push capability.
func NewDispatcher(members MemberLister, bcast realtime.Broadcaster, push PushDispatcher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{members: members, bcast: bcast, push: push, logger: logger}
}

// ExtractMentions returns the distinct @tokens in content, without the @,
// in order of first appearance.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	var tokens []string
	for _, m := range matches {
		key := strings.ToLower(m[1])
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Resolve maps tokens to workspace members whose display name equals the
// token, ignoring case.
func (d *Dispatcher) Resolve(ctx context.Context, tokens []string, workspaceID string) ([]models.User, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	members, err := d.members.ListWorkspaceMembers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", workspaceID, err)
	}

	var users []models.User
	picked := make(map[string]struct{})
	for _, token := range tokens {
		for _, m := range members {
			if !strings.EqualFold(m.DisplayName, token) {
				continue
			}
			if _, dup := picked[m.ID]; dup {
				continue
			}
			picked[m.ID] = struct{}{}
			users = append(users, m.User)
		}
	}
	return users, nil
}

// Notify emits a mention event to each user's personal room and then hands
// a push notification to the dispatcher. Push failures never reach the
// caller.
func (d *Dispatcher) Notify(ctx context.Context, channel *models.Channel, msg *models.Message, users []models.User, actor *models.User) {
	event := realtime.Mention{
		ChannelID:   channel.ID,
		WorkspaceID: channel.WorkspaceID,
		Message:     msg,
		MentionedBy: actor,
	}
	payload := pushPayload(channel, msg, actor)

	for _, u := range users {
		d.bcast.Broadcast(realtime.UserRoom(u.ID), realtime.EventMention, event, "")
		if d.push != nil {
			d.push.Dispatch(ctx, u.ID, payload)
		}
	}
}

// Process runs extraction, resolution and notification for a new message.
// Self-mentions are skipped.
func (d *Dispatcher) Process(ctx context.Context, channel *models.Channel, msg *models.Message, actor *models.User) {
	tokens := ExtractMentions(msg.Content)
	if len(tokens) == 0 {
		return
	}

	users, err := d.Resolve(ctx, tokens, channel.WorkspaceID)
	if err != nil {
		d.logger.Error("resolve mentions", "message_id", msg.ID, "channel_id", channel.ID, "error", err)
		return
	}

	targets := users[:0]
	for _, u := range users {
		if u.ID != actor.ID {
			targets = append(targets, u)
		}
	}
	if len(targets) == 0 {
		return
	}

	d.Notify(ctx, channel, msg, targets, actor)
	d.logger.Debug("mentions dispatched", "message_id", msg.ID, "count", len(targets))
}

func pushPayload(channel *models.Channel, msg *models.Message, actor *models.User) models.PushPayload {
	body := msg.Content
	if utf8.RuneCountInString(body) > maxPushBody {
		body = string([]rune(body)[:maxPushBody-1]) + "…"
	}

	title := actor.DisplayName + " mentioned you"
	if !channel.IsDirect && channel.Name != "" {
		title += " in #" + channel.Name
	}

	return models.PushPayload{
		Title:       title,
		Body:        body,
		Tag:         "mention-" + msg.ID,
		URL:         fmt.Sprintf("/workspaces/%s/channels/%s?message=%s", channel.WorkspaceID, channel.ID, msg.ID),
		ChannelID:   channel.ID,
		WorkspaceID: channel.WorkspaceID,
		Actions:     models.DefaultPushActions,
	}
}
