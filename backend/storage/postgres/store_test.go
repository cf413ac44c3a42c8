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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/storage"
)

var messageCols = []string{"id", "channel_id", "author_id", "content", "parent_id",
	"created_at", "updated_at", "display_name", "avatar_url", "reply_count"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewStore(db), mock
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`FROM users`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetUser(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateMessageWritesAttachmentsInOneTransaction(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &models.Message{
		ID: "m1", ChannelID: "c1", AuthorID: "alice", Content: "hi",
		CreatedAt: at, UpdatedAt: at,
		Attachments: []models.Attachment{{ID: "a1", URL: "https://cdn/x.png", Name: "x.png", MimeType: "image/png", Size: 10}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs("m1", "c1", "alice", "hi", sqlmock.AnyArg(), at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO attachments`).
		WithArgs("a1", "m1", "https://cdn/x.png", "x.png", "image/png", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CreateMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
}

func TestCreateMessageRollsBackOnAttachmentFailure(t *testing.T) {
	store, mock := newMock(t)
	msg := &models.Message{
		ID: "m1", ChannelID: "c1", AuthorID: "alice", Content: "hi",
		Attachments: []models.Attachment{{ID: "a1"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO messages`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO attachments`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := store.CreateMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error")
	}
}

func TestListTopLevelScansAuthorAndAttachments(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ORDER BY m.created_at DESC, m.id DESC`).
		WithArgs("c1", "", 3).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m2", "c1", "bob", "second", nil, at, at, "Bob", nil, 0).
			AddRow("m1", "c1", "ghost", "first", nil, at, at, nil, nil, 2))
	mock.ExpectQuery(`FROM attachments`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "url", "name", "mime_type", "size"}).
			AddRow("a1", "m1", "https://cdn/a", "a", "text/plain", 4))

	msgs, err := store.ListTopLevel(context.Background(), "c1", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Author == nil || msgs[0].Author.DisplayName != "Bob" {
		t.Errorf("author = %+v", msgs[0].Author)
	}
	if msgs[1].Author != nil {
		t.Errorf("deleted author should be nil, got %+v", msgs[1].Author)
	}
	if msgs[1].ReplyCount != 2 || len(msgs[1].Attachments) != 1 || len(msgs[0].Attachments) != 0 {
		t.Errorf("m1 = %+v, m2 attachments = %v", msgs[1], msgs[0].Attachments)
	}
}

func TestUpdateMessageContentMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(`UPDATE messages SET content`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateMessageContent(context.Background(), "gone", "x", time.Now())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM messages`).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM messages`).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteMessage(context.Background(), "m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestSearchMessagesEscapesWildcards(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`ILIKE`).
		WithArgs(sqlmock.AnyArg(), `100\%`, "", 50).
		WillReturnRows(sqlmock.NewRows(messageCols))

	msgs, err := store.SearchMessages(context.Background(), models.SearchQuery{
		ChannelIDs: []string{"c1"},
		Query:      "100%",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("len = %d", len(msgs))
	}
}

func TestSearchMessagesWithoutChannelsSkipsQuery(t *testing.T) {
	store, _ := newMock(t)
	msgs, err := store.SearchMessages(context.Background(), models.SearchQuery{Query: "hello"})
	if err != nil || msgs != nil {
		t.Fatalf("msgs = %v, err = %v", msgs, err)
	}
}

func TestUnreadCounts(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`GROUP BY m.channel_id`).
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id", "count"}).AddRow("c1", 4))

	counts, err := store.UnreadCounts(context.Background(), "alice", []string{"c1", "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if counts["c1"] != 4 || counts["c2"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestPushSubscriptions(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(`ON CONFLICT \(endpoint\) DO UPDATE`).
		WithArgs("https://push/1", "alice", "p", "a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM push_subscriptions`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "user_id", "p256dh", "auth", "created_at"}).
			AddRow("https://push/1", "alice", "p", "a", now))
	mock.ExpectExec(`DELETE FROM push_subscriptions`).
		WithArgs("https://push/1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	err := store.UpsertPushSubscription(ctx, models.PushSubscription{
		UserID: "alice", Endpoint: "https://push/1", Keys: models.PushKeys{P256dh: "p", Auth: "a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	subs, err := store.ListPushSubscriptions(ctx, "alice")
	if err != nil || len(subs) != 1 || subs[0].Keys.Auth != "a" {
		t.Fatalf("subs = %+v, err = %v", subs, err)
	}
	if err := store.DeletePushSubscription(ctx, "https://push/1"); err != nil {
		t.Fatal(err)
	}
}

func TestCreateDirectChannelConflictInsertsNoMembers(t *testing.T) {
	store, mock := newMock(t)
	ch := models.Channel{ID: "d1", WorkspaceID: "w1", Name: "dm-d1"}

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("d1", "w1", "dm-d1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO channel_members`).WithArgs("d1", "alice", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO channel_members`).WithArgs("d1", "bob", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(id\) DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	created, err := store.CreateDirectChannel(ctx, ch, []string{"alice", "bob"})
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = store.CreateDirectChannel(ctx, ch, []string{"alice", "bob"})
	if err != nil || created {
		t.Fatalf("duplicate insert: created=%v err=%v", created, err)
	}
}
