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

// Package memstore is an in-memory storage.Store with the same ordering and
// uniqueness semantics as the Postgres store. It backs component tests.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/storage"
)

type memberKey struct {
	scope string
	user  string
}

type Store struct {
	mu sync.Mutex

	users            map[string]models.User
	workspaces       map[string]models.Workspace
	workspaceMembers map[memberKey]models.WorkspaceMember
	channels         map[string]models.Channel
	channelMembers   map[memberKey]models.ChannelMember
	messages         map[string]models.Message
	push             map[string]models.PushSubscription
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:            make(map[string]models.User),
		workspaces:       make(map[string]models.Workspace),
		workspaceMembers: make(map[memberKey]models.WorkspaceMember),
		channels:         make(map[string]models.Channel),
		channelMembers:   make(map[memberKey]models.ChannelMember),
		messages:         make(map[string]models.Message),
		push:             make(map[string]models.PushSubscription),
	}
}

// Seeding helpers. These stand in for the external account and admin flows.

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutWorkspace(ws models.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
}

func (s *Store) PutWorkspaceMember(workspaceID, userID string, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaceMembers[memberKey{workspaceID, userID}] = models.WorkspaceMember{
		WorkspaceID: workspaceID, UserID: userID, Role: role, JoinedAt: time.Now(),
	}
}

func (s *Store) PutChannel(ch models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

// PutMessage stores msg as given, timestamps included.
func (s *Store) PutMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
}

// MessageCount returns the number of stored messages, replies included.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetWorkspaceMember(_ context.Context, workspaceID, userID string) (*models.WorkspaceMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.workspaceMembers[memberKey{workspaceID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (s *Store) ListUserWorkspaces(_ context.Context, userID string) ([]models.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Workspace
	for key := range s.workspaceMembers {
		if key.user != userID {
			continue
		}
		if ws, ok := s.workspaces[key.scope]; ok {
			out = append(out, ws)
		} else {
			out = append(out, models.Workspace{ID: key.scope})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListWorkspaceMembers(_ context.Context, workspaceID string) ([]models.WorkspaceMemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WorkspaceMemberProfile
	for key, m := range s.workspaceMembers {
		if key.scope != workspaceID {
			continue
		}
		u, ok := s.users[key.user]
		if !ok {
			continue
		}
		out = append(out, models.WorkspaceMemberProfile{User: u, Role: m.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetChannel(_ context.Context, channelID string) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ch, nil
}

func (s *Store) ListWorkspaceChannels(_ context.Context, workspaceID string) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Channel
	for _, ch := range s.channels {
		if ch.WorkspaceID == workspaceID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetChannelMember(_ context.Context, channelID, userID string) (*models.ChannelMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.channelMembers[memberKey{channelID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (s *Store) ListUserChannelMemberships(_ context.Context, userID string) ([]models.ChannelMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChannelMember
	for key, m := range s.channelMembers {
		if key.user == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *Store) AddChannelMember(_ context.Context, channelID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{channelID, userID}
	if _, ok := s.channelMembers[key]; ok {
		return nil
	}
	s.channelMembers[key] = models.ChannelMember{
		ChannelID: channelID, UserID: userID, LastRead: time.Unix(0, 0).UTC(), JoinedAt: time.Now(),
	}
	return nil
}

func (s *Store) SetLastRead(_ context.Context, channelID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{channelID, userID}
	m, ok := s.channelMembers[key]
	if !ok {
		m = models.ChannelMember{ChannelID: channelID, UserID: userID, JoinedAt: at}
	}
	m.LastRead = at
	s.channelMembers[key] = m
	return nil
}

func (s *Store) CreateDirectChannel(_ context.Context, channel models.Channel, memberIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel.ID]; ok {
		return false, nil
	}
	channel.IsDirect = true
	channel.IsPrivate = true
	s.channels[channel.ID] = channel
	for _, id := range memberIDs {
		s.channelMembers[memberKey{channel.ID, id}] = models.ChannelMember{
			ChannelID: channel.ID, UserID: id, LastRead: time.Unix(0, 0).UTC(), JoinedAt: channel.CreatedAt,
		}
	}
	return true, nil
}

func (s *Store) UnreadCounts(_ context.Context, userID string, channelIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(channelIDs))
	for _, channelID := range channelIDs {
		lastRead := time.Unix(0, 0)
		if m, ok := s.channelMembers[memberKey{channelID, userID}]; ok {
			lastRead = m.LastRead
		}
		for _, msg := range s.messages {
			if msg.ChannelID == channelID && msg.AuthorID != userID && msg.CreatedAt.After(lastRead) {
				counts[channelID]++
			}
		}
	}
	return counts, nil
}

func (s *Store) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	stored.Attachments = slices.Clone(msg.Attachments)
	s.messages[msg.ID] = stored
	return nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := s.decorateLocked(msg)
	return &out, nil
}

func (s *Store) UpdateMessageContent(_ context.Context, messageID, content string, at time.Time) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	msg.Content = content
	msg.UpdatedAt = at
	s.messages[messageID] = msg
	out := s.decorateLocked(msg)
	return &out, nil
}

func (s *Store) DeleteMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.messages, messageID)
	for id, msg := range s.messages {
		if msg.ParentID != nil && *msg.ParentID == messageID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *Store) ListTopLevel(_ context.Context, channelID, cursor string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var boundary *models.Message
	if cursor != "" {
		c, ok := s.messages[cursor]
		if !ok {
			return []models.Message{}, nil
		}
		boundary = &c
	}

	var out []models.Message
	for _, msg := range s.messages {
		if msg.ChannelID != channelID || msg.ParentID != nil {
			continue
		}
		if boundary != nil && !olderThan(msg, *boundary) {
			continue
		}
		out = append(out, s.decorateLocked(msg))
	}
	sort.Slice(out, func(i, j int) bool { return olderThan(out[j], out[i]) })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

func (s *Store) ListReplies(_ context.Context, parentID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, msg := range s.messages {
		if msg.ParentID != nil && *msg.ParentID == parentID {
			out = append(out, s.decorateLocked(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return olderThan(out[i], out[j]) })
	return out, nil
}

func (s *Store) SearchMessages(_ context.Context, query models.SearchQuery) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query.Query)
	out := []models.Message{}
	for _, msg := range s.messages {
		if !slices.Contains(query.ChannelIDs, msg.ChannelID) {
			continue
		}
		if query.AuthorID != "" && msg.AuthorID != query.AuthorID {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Content), needle) {
			continue
		}
		out = append(out, s.decorateLocked(msg))
	}
	sort.Slice(out, func(i, j int) bool { return olderThan(out[j], out[i]) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) UpsertPushSubscription(_ context.Context, sub models.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.push[sub.Endpoint] = sub
	return nil
}

func (s *Store) ListPushSubscriptions(_ context.Context, userID string) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PushSubscription
	for _, sub := range s.push {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *Store) DeletePushSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.push, endpoint)
	return nil
}

func (s *Store) DeleteUserPushSubscription(_ context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.push[endpoint]; ok && sub.UserID == userID {
		delete(s.push, endpoint)
	}
	return nil
}

// olderThan orders by (CreatedAt, ID), the same key the SQL store uses.
func olderThan(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) decorateLocked(msg models.Message) models.Message {
	if u, ok := s.users[msg.AuthorID]; ok {
		author := u
		msg.Author = &author
	}
	msg.ReplyCount = 0
	if msg.ParentID == nil {
		for _, other := range s.messages {
			if other.ParentID != nil && *other.ParentID == msg.ID {
				msg.ReplyCount++
			}
		}
	}
	msg.Attachments = slices.Clone(msg.Attachments)
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	return msg
}
