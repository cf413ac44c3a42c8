// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/efchatnet/efteam/backend/auth"
	"github.com/efchatnet/efteam/backend/config"
	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/realtime"
	"github.com/efchatnet/efteam/backend/storage/memstore"
)

const secret = "integration-secret"

type recordingSender struct {
	mu        sync.Mutex
	endpoints []string
}

func (s *recordingSender) Send(_ context.Context, sub models.PushSubscription, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, sub.Endpoint)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

type harness struct {
	srv    *httptest.Server
	server *Server
	store  *memstore.Store
	sender *recordingSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	store.PutUser(models.User{ID: "alice", DisplayName: "Alice"})
	store.PutUser(models.User{ID: "bob", DisplayName: "Bob"})
	store.PutWorkspace(models.Workspace{ID: "w1", Name: "Band"})
	store.PutWorkspaceMember("w1", "alice", models.RoleMember)
	store.PutWorkspaceMember("w1", "bob", models.RoleMember)
	store.PutChannel(models.Channel{ID: "general", WorkspaceID: "w1", Name: "general"})

	cfg := config.Default()
	cfg.JWT.Secret = secret
	cfg.AllowedOrigins = []string{"*"}
	cfg.Push.VAPIDPublicKey = "BPublicKey"
	cfg.Push.VAPIDPrivateKey = "private"

	sender := &recordingSender{}
	server, err := New(store, Options{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		PushSender: sender,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Close()
		srv.Close()
	})
	return &harness{srv: srv, server: server, store: store, sender: sender}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "efchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func (h *harness) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token(t, userID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.server.Hub().RoomSize(realtime.UserRoom(userID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%s never registered", userID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return ws
}

// next reads frames until one with the wanted event arrives.
func next(t *testing.T, ws *websocket.Conn, event string) realtime.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func TestHealthAndPublicKey(t *testing.T) {
	h := newHarness(t)

	if resp := h.do(t, "GET", "/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}

	resp := h.do(t, "GET", "/api/push/public-key", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public key = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["publicKey"] != "BPublicKey" {
		t.Fatalf("public key body = %v (%v)", body, err)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, "GET", "/api/channels/general/messages", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMessageFlowReachesSocketsAndPush(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "POST", "/api/push/subscribe", "alice", map[string]any{
		"endpoint": "https://push.example/alice",
		"keys":     map[string]string{"p256dh": "p", "auth": "a"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("subscribe = %d", resp.StatusCode)
	}

	aliceWS := h.dial(t, "alice")

	resp = h.do(t, "POST", "/api/channels/general/messages", "bob", map[string]string{
		"content": "@Alice check the setlist",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d", resp.StatusCode)
	}
	var created models.Message
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	env := next(t, aliceWS, realtime.EventMessageNew)
	var got models.Message
	if err := json.Unmarshal(env.Data, &got); err != nil || got.ID != created.ID {
		t.Fatalf("message:new = %s (%v)", env.Data, err)
	}

	env = next(t, aliceWS, realtime.EventMention)
	var mention realtime.Mention
	if err := json.Unmarshal(env.Data, &mention); err != nil {
		t.Fatal(err)
	}
	if mention.MentionedBy == nil || mention.MentionedBy.ID != "bob" || mention.ChannelID != "general" {
		t.Fatalf("mention = %+v", mention)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("push was never attempted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Reply, edit and delete propagate as well.
	resp = h.do(t, "POST", "/api/channels/general/messages", "bob", map[string]string{
		"content": "first reply", "parentId": created.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reply = %d", resp.StatusCode)
	}
	var reply models.Message
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	next(t, aliceWS, realtime.EventMessageReply)

	resp = h.do(t, "POST", "/api/channels/general/messages", "bob", map[string]string{
		"content": "nested", "parentId": reply.ID,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reply to reply = %d, want 400", resp.StatusCode)
	}

	resp = h.do(t, "PATCH", "/api/messages/"+created.ID, "bob", map[string]string{"content": "edited"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit = %d", resp.StatusCode)
	}
	next(t, aliceWS, realtime.EventMessageUpdated)

	resp = h.do(t, "PATCH", "/api/messages/"+created.ID, "alice", map[string]string{"content": "nope"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign edit = %d, want 403", resp.StatusCode)
	}

	resp = h.do(t, "DELETE", "/api/messages/"+reply.ID, "bob", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	env = next(t, aliceWS, realtime.EventMessageDeleted)
	var deleted realtime.MessageDeleted
	_ = json.Unmarshal(env.Data, &deleted)
	if deleted.MessageID != reply.ID || deleted.ParentID == nil || *deleted.ParentID != created.ID {
		t.Fatalf("deleted = %+v", deleted)
	}
}

func TestInitiatorDisconnectDoesNotStopBroadcast(t *testing.T) {
	h := newHarness(t)

	bobWS := h.dial(t, "bob")
	aliceWS := h.dial(t, "alice")

	bobWS.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.server.Hub().RoomSize(realtime.UserRoom("bob")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("bob's socket was never released")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := h.do(t, "POST", "/api/channels/general/messages", "bob", map[string]string{"content": "sent after leaving"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d", resp.StatusCode)
	}
	next(t, aliceWS, realtime.EventMessageNew)
}

func TestHistoryAndWorkspaceEndpoints(t *testing.T) {
	h := newHarness(t)

	for _, content := range []string{"one", "two", "three"} {
		if resp := h.do(t, "POST", "/api/channels/general/messages", "bob", map[string]string{"content": content}); resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %s = %d", content, resp.StatusCode)
		}
	}

	resp := h.do(t, "GET", "/api/channels/general/messages?limit=2", "alice", nil)
	var page models.MessagePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 || !page.HasMore || page.NextCursor == nil {
		t.Fatalf("page = %+v", page)
	}
	if page.Messages[0].Content != "two" || page.Messages[1].Content != "three" {
		t.Fatalf("page order = %q, %q", page.Messages[0].Content, page.Messages[1].Content)
	}

	resp = h.do(t, "GET", "/api/channels/general/messages?limit=abc", "alice", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", resp.StatusCode)
	}

	resp = h.do(t, "GET", "/api/workspaces/w1/unread", "alice", nil)
	var unread struct {
		Unread map[string]int `json:"unread"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&unread)
	if unread.Unread["general"] != 3 {
		t.Fatalf("unread = %v", unread.Unread)
	}

	if resp := h.do(t, "POST", "/api/channels/general/read", "alice", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read = %d", resp.StatusCode)
	}

	resp = h.do(t, "GET", "/api/workspaces/w1/search?q=TW", "alice", nil)
	var search struct {
		Count int `json:"count"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&search)
	if search.Count != 1 {
		t.Fatalf("search count = %d", search.Count)
	}

	resp = h.do(t, "POST", "/api/workspaces/w1/dm", "alice", map[string][]string{"memberIds": {"bob"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open dm = %d", resp.StatusCode)
	}
	resp = h.do(t, "POST", "/api/workspaces/w1/dm", "bob", map[string][]string{"memberIds": {"alice"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reopen dm = %d", resp.StatusCode)
	}
}
