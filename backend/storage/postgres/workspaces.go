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

package postgres

import (
	"context"
	"database/sql"

	"github.com/efchatnet/efteam/backend/models"
)

// GetWorkspaceMember returns the membership row of a user in a workspace
func (s *Store) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (*models.WorkspaceMember, error) {
	var member models.WorkspaceMember

	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, user_id, role, joined_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(
		&member.WorkspaceID, &member.UserID, &member.Role, &member.JoinedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &member, nil
}

// ListUserWorkspaces gets all workspaces a user belongs to
func (s *Store) ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.invite_code, w.created_at
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1
		ORDER BY w.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		var invite sql.NullString

		if err := rows.Scan(&ws.ID, &ws.Name, &invite, &ws.CreatedAt); err != nil {
			return nil, err
		}
		ws.InviteCode = invite.String
		workspaces = append(workspaces, ws)
	}

	return workspaces, rows.Err()
}

// ListWorkspaceMembers gets every member of a workspace with their profile
func (s *Store) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]models.WorkspaceMemberProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.avatar_url, wm.role
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id = $1
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.WorkspaceMemberProfile
	for rows.Next() {
		var m models.WorkspaceMemberProfile
		var avatar sql.NullString

		if err := rows.Scan(&m.ID, &m.DisplayName, &avatar, &m.Role); err != nil {
			return nil, err
		}
		m.AvatarURL = avatar.String
		members = append(members, m)
	}

	return members, rows.Err()
}
