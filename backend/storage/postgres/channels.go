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
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efteam/backend/models"
)

const channelColumns = `c.id, c.workspace_id, c.name, c.is_private, c.is_direct, c.group_id, c.position, c.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (models.Channel, error) {
	var ch models.Channel
	var groupID sql.NullString

	err := row.Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.IsPrivate, &ch.IsDirect,
		&groupID, &ch.Position, &ch.CreatedAt)
	if err != nil {
		return ch, err
	}
	if groupID.Valid {
		ch.GroupID = &groupID.String
	}
	return ch, nil
}

func (s *Store) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+channelColumns+`
		FROM channels c
		WHERE c.id = $1`, channelID)

	ch, err := scanChannel(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

func (s *Store) ListWorkspaceChannels(ctx context.Context, workspaceID string) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+channelColumns+`
		FROM channels c
		WHERE c.workspace_id = $1
		ORDER BY c.position, c.created_at`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

func (s *Store) GetChannelMember(ctx context.Context, channelID, userID string) (*models.ChannelMember, error) {
	var member models.ChannelMember

	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, user_id, muted, last_read, joined_at
		FROM channel_members
		WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID).Scan(&member.ChannelID, &member.UserID, &member.Muted,
		&member.LastRead, &member.JoinedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &member, nil
}

func (s *Store) ListUserChannelMemberships(ctx context.Context, userID string) ([]models.ChannelMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, user_id, muted, last_read, joined_at
		FROM channel_members
		WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ChannelMember
	for rows.Next() {
		var m models.ChannelMember
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.Muted, &m.LastRead, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// AddChannelMember relies on the primary key to make repeated joins a no-op.
func (s *Store) AddChannelMember(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, muted, last_read, joined_at)
		VALUES ($1, $2, false, 'epoch', $3)
		ON CONFLICT (channel_id, user_id) DO NOTHING`,
		channelID, userID, time.Now())
	return err
}

func (s *Store) SetLastRead(ctx context.Context, channelID, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_members SET last_read = $3
		WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID, at)
	if err != nil {
		return err
	}
	if err := rowsAffected(res); err == nil {
		return nil
	}

	// Public channels may be read without ever having joined explicitly.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, muted, last_read, joined_at)
		VALUES ($1, $2, false, $3, $3)
		ON CONFLICT (channel_id, user_id) DO UPDATE SET last_read = $3`,
		channelID, userID, at)
	return err
}

// CreateDirectChannel relies on the primary key: direct channel ids are
// derived from the member set, so a concurrent duplicate inserts nothing.
func (s *Store) CreateDirectChannel(ctx context.Context, channel models.Channel, memberIDs []string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name, is_private, is_direct, position, created_at)
		VALUES ($1, $2, $3, true, true, 0, $4)
		ON CONFLICT (id) DO NOTHING`,
		channel.ID, channel.WorkspaceID, channel.Name, channel.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	for _, memberID := range memberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO channel_members (channel_id, user_id, muted, last_read, joined_at)
			VALUES ($1, $2, false, 'epoch', $3)
			ON CONFLICT (channel_id, user_id) DO NOTHING`,
			channel.ID, memberID, channel.CreatedAt)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) UnreadCounts(ctx context.Context, userID string, channelIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(channelIDs))
	if len(channelIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.channel_id, COUNT(*)
		FROM messages m
		LEFT JOIN channel_members cm
		  ON cm.channel_id = m.channel_id AND cm.user_id = $1
		WHERE m.channel_id = ANY($2)
		  AND m.author_id <> $1
		  AND m.created_at > COALESCE(cm.last_read, 'epoch'::timestamptz)
		GROUP BY m.channel_id`,
		userID, pq.Array(channelIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var channelID string
		var n int
		if err := rows.Scan(&channelID, &n); err != nil {
			return nil, err
		}
		counts[channelID] = n
	}

	return counts, rows.Err()
}
