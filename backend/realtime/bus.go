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

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultBusChannel is the Redis pub/sub channel shared by all instances.
const DefaultBusChannel = "efteam:rooms"

type busMessage struct {
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Bus fans room broadcasts out to every instance through Redis. Each instance
// runs Run to deliver published events to its local Hub. Connection ids are
// globally unique, so exclusion still works across instances.
type Bus struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	logger  *slog.Logger
}

var _ Broadcaster = (*Bus)(nil)

func NewBus(rdb *redis.Client, hub *Hub, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, hub: hub, channel: DefaultBusChannel, logger: logger}
}

// Broadcast publishes the event. If Redis is unreachable the event is still
// delivered to local connections.
func (b *Bus) Broadcast(room Room, event string, data any, except string) {
	payload, err := Encode(event, data)
	if err != nil {
		b.logger.Error("encode event", "event", event, "room", room.String(), "error", err)
		return
	}

	msg, err := json.Marshal(busMessage{Room: room.String(), Except: except, Payload: payload})
	if err != nil {
		b.logger.Error("encode bus message", "error", err)
		return
	}

	if err := b.rdb.Publish(context.Background(), b.channel, msg).Err(); err != nil {
		b.logger.Warn("bus publish failed, delivering locally", "room", room.String(), "error", err)
		b.hub.Deliver(room, payload, except)
	}
}

// Run subscribes to the bus and relays events until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *Bus) relay(raw string) {
	var msg busMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		b.logger.Warn("malformed bus message", "error", err)
		return
	}
	room, err := ParseRoom(msg.Room)
	if err != nil {
		b.logger.Warn("bus message for unknown room", "error", err)
		return
	}
	b.hub.Deliver(room, msg.Payload, msg.Except)
}
