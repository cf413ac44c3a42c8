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

import "context"

func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		// Users are owned by the account service; the table is created here
		// so a fresh database works for local development.
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			avatar_url TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS workspaces (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			invite_code VARCHAR(64) UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			role VARCHAR(16) NOT NULL DEFAULT 'MEMBER' CHECK (role IN ('ADMIN', 'MEMBER')),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (workspace_id, user_id),
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_workspace_members_user
		ON workspace_members(user_id)`,

		`CREATE TABLE IF NOT EXISTS channels (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_private BOOLEAN NOT NULL DEFAULT FALSE,
			is_direct BOOLEAN NOT NULL DEFAULT FALSE,
			group_id VARCHAR(255),
			position INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT direct_is_private CHECK (NOT is_direct OR is_private),
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
		)`,

		// Channel membership; the primary key makes concurrent joins idempotent
		`CREATE TABLE IF NOT EXISTS channel_members (
			channel_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			muted BOOLEAN NOT NULL DEFAULT FALSE,
			last_read TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (channel_id, user_id),
			FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_channel_members_user
		ON channel_members(user_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(255) PRIMARY KEY,
			channel_id VARCHAR(255) NOT NULL,
			author_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			parent_id VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
			FOREIGN KEY (parent_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,

		// Pagination index, matching ORDER BY created_at DESC, id DESC
		`CREATE INDEX IF NOT EXISTS idx_messages_top_level
		ON messages(channel_id, created_at DESC, id DESC)
		WHERE parent_id IS NULL`,

		`CREATE INDEX IF NOT EXISTS idx_messages_parent
		ON messages(parent_id, created_at)
		WHERE parent_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS attachments (
			id VARCHAR(255) PRIMARY KEY,
			message_id VARCHAR(255) NOT NULL,
			url TEXT NOT NULL,
			name VARCHAR(255) NOT NULL,
			mime_type VARCHAR(255) NOT NULL DEFAULT 'application/octet-stream',
			size BIGINT NOT NULL DEFAULT 0,
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attachments_message
		ON attachments(message_id)`,

		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			endpoint TEXT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user
		ON push_subscriptions(user_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
