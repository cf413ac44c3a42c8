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

// Package push delivers Web Push notifications to every registered device
// of a user. Each trigger makes at most one attempt per endpoint.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/storage"
)

// ErrEndpointGone means the push service no longer knows the endpoint.
var ErrEndpointGone = errors.New("push: endpoint gone")

// Sender performs a single delivery. Implementations return an error wrapping
// ErrEndpointGone when the subscription should be forgotten.
type Sender interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte) error
}

// Worker fans a payload out to all of a user's subscriptions.
type Worker struct {
	store  storage.PushStore
	sender Sender
	logger *slog.Logger
}

// NewWorker returns a worker. A nil sender makes every call a no-op, which is
// how a server without VAPID keys is configured.
func NewWorker(store storage.PushStore, sender Sender, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, sender: sender, logger: logger}
}

// Enabled reports whether the worker can deliver anything.
func (w *Worker) Enabled() bool {
	return w.sender != nil
}

// SendToUser delivers payload to every endpoint of userID concurrently and
// waits for all attempts. Only the subscription lookup can fail the call.
func (w *Worker) SendToUser(ctx context.Context, userID string, payload models.PushPayload) error {
	if !w.Enabled() {
		return nil
	}

	subs, err := w.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("list push subscriptions for %s: %w", userID, err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()
			w.deliver(ctx, sub, body)
		}(sub)
	}
	wg.Wait()
	return nil
}

func (w *Worker) deliver(ctx context.Context, sub models.PushSubscription, body []byte) {
	err := w.sender.Send(ctx, sub, body)
	if err == nil {
		return
	}

	if errors.Is(err, ErrEndpointGone) {
		if delErr := w.store.DeletePushSubscription(ctx, sub.Endpoint); delErr != nil {
			w.logger.Error("prune push subscription", "user_id", sub.UserID, "endpoint", sub.Endpoint, "error", delErr)
			return
		}
		w.logger.Info("pruned gone push subscription", "user_id", sub.UserID, "endpoint", sub.Endpoint)
		return
	}

	w.logger.Warn("push delivery failed", "user_id", sub.UserID, "endpoint", sub.Endpoint, "error", err)
}
