// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package realtime

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain returns every payload currently queued on conn.
func drain(conn *Connection) []Envelope {
	var out []Envelope
	for {
		select {
		case raw := <-conn.Outbound():
			var env Envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestHubJoinIsIdempotent(t *testing.T) {
	hub := NewHub(discardLogger())
	conn := NewConnection("u1", nil)
	hub.Attach(conn)

	room := ChannelRoom("c1")
	if !hub.Join(room, conn) {
		t.Fatal("first join should register the connection")
	}
	if hub.Join(room, conn) {
		t.Fatal("second join should be a no-op")
	}
	if got := hub.RoomSize(room); got != 1 {
		t.Fatalf("room size = %d, want 1", got)
	}

	hub.Broadcast(room, EventMessageNew, map[string]string{"id": "m1"}, "")
	if got := len(drain(conn)); got != 1 {
		t.Fatalf("received %d events, want 1", got)
	}
}

func TestHubJoinUnknownConnection(t *testing.T) {
	hub := NewHub(discardLogger())
	conn := NewConnection("u1", nil)

	if hub.Join(ChannelRoom("c1"), conn) {
		t.Fatal("join must fail for a connection that was never attached")
	}
}

func TestHubBroadcastExcludesConnection(t *testing.T) {
	hub := NewHub(discardLogger())
	sender := NewConnection("u1", nil)
	other := NewConnection("u1", nil)
	hub.Attach(sender)
	hub.Attach(other)

	room := ChannelRoom("c1")
	hub.Join(room, sender)
	hub.Join(room, other)

	hub.Broadcast(room, EventTypingStart, TypingStarted{ChannelID: "c1"}, sender.ID)

	if got := drain(sender); len(got) != 0 {
		t.Fatalf("sender received %d events, want 0", len(got))
	}
	got := drain(other)
	if len(got) != 1 || got[0].Event != EventTypingStart {
		t.Fatalf("other connection received %+v", got)
	}
}

func TestHubDetachStopsDelivery(t *testing.T) {
	hub := NewHub(discardLogger())
	leaving := NewConnection("u1", nil)
	staying := NewConnection("u2", nil)
	hub.Attach(leaving)
	hub.Attach(staying)

	room := ChannelRoom("c1")
	hub.Join(room, leaving)
	hub.Join(room, staying)
	hub.Join(UserRoom("u1"), leaving)

	hub.Detach(leaving)

	if hub.InRoom(room, leaving.ID) {
		t.Fatal("detached connection still in channel room")
	}
	if n := hub.RoomSize(UserRoom("u1")); n != 0 {
		t.Fatalf("user room size = %d after detach, want 0", n)
	}

	delivered := hub.Deliver(room, []byte(`{"event":"message:new"}`), "")
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if got := drain(leaving); len(got) != 0 {
		t.Fatalf("detached connection received %d events", len(got))
	}
}

func TestHubSlowConnectionIsolated(t *testing.T) {
	hub := NewHub(discardLogger())
	slow := NewConnection("slow", nil)
	fast := NewConnection("fast", nil)
	hub.Attach(slow)
	hub.Attach(fast)

	room := WorkspaceRoom("w1")
	hub.Join(room, slow)
	hub.Join(room, fast)

	for i := 0; i < sendBuffer; i++ {
		if err := slow.Send([]byte(`{}`)); err != nil {
			t.Fatalf("fill buffer: %v", err)
		}
	}

	if n := hub.Deliver(room, []byte(`{"event":"presence:updated"}`), ""); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow connection should have been closed")
	}
	if got := drain(fast); len(got) != 1 {
		t.Fatalf("fast connection received %d events, want 1", len(got))
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(discardLogger())
	conn := NewConnection("u1", nil)
	hub.Attach(conn)
	hub.Join(UserRoom("u1"), conn)

	hub.Close()

	select {
	case <-conn.Done():
	default:
		t.Fatal("connection not closed")
	}
	if err := conn.Send([]byte(`{}`)); err != ErrConnectionClosed {
		t.Fatalf("send after close = %v, want ErrConnectionClosed", err)
	}
}

// serverSocket returns the server side of a websocket whose client never
// reads.
func serverSocket(t *testing.T) *websocket.Conn {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case ws := <-accepted:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade never completed")
		return nil
	}
}

func TestHubStalledSocketDoesNotBlockRoom(t *testing.T) {
	hub := NewHub(discardLogger())
	stalled := NewConnection("stalled", serverSocket(t))
	healthy := NewConnection("healthy", nil)
	hub.Attach(stalled)
	hub.Attach(healthy)

	room := ChannelRoom("c1")
	hub.Join(room, stalled)
	hub.Join(room, healthy)

	payload := bytes.Repeat([]byte("x"), 256<<10)
	giveUp := time.Now().Add(30 * time.Second)

loop:
	for {
		select {
		case <-stalled.Done():
			break loop
		default:
		}
		if time.Now().After(giveUp) {
			t.Fatal("stalled socket was never dropped")
		}

		start := time.Now()
		hub.Deliver(room, payload, "")
		if took := time.Since(start); took > 500*time.Millisecond {
			t.Fatalf("Deliver blocked for %v", took)
		}
		drain(healthy)
	}

	start := time.Now()
	if got := hub.Deliver(room, payload, ""); got != 1 {
		t.Fatalf("delivered to %d connections after drop, want 1", got)
	}
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Fatalf("Deliver after drop blocked for %v", took)
	}
}
