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

package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/efchatnet/efteam/backend/apperr"
	"github.com/efchatnet/efteam/backend/models"
	"github.com/efchatnet/efteam/backend/storage"
)

type PushHandler struct {
	store     storage.PushStore
	publicKey string
	logger    *slog.Logger
}

// NewPushHandler creates a handler; publicKey is empty when push is disabled.
func NewPushHandler(store storage.PushStore, publicKey string, logger *slog.Logger) *PushHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushHandler{store: store, publicKey: publicKey, logger: logger}
}

type subscriptionRequest struct {
	Endpoint string          `json:"endpoint"`
	Keys     models.PushKeys `json:"keys"`
}

// Subscribe registers or refreshes a device endpoint for the caller
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := validateEndpoint(req.Endpoint); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, h.logger, r, apperr.Validation("keys.p256dh and keys.auth are required"))
		return
	}

	sub := models.PushSubscription{
		UserID:    user.ID,
		Endpoint:  req.Endpoint,
		Keys:      req.Keys,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.UpsertPushSubscription(r.Context(), sub); err != nil {
		writeError(w, h.logger, r, apperr.Internal("Failed to save subscription", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})
}

// Unsubscribe removes one of the caller's endpoints
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, h.logger, r, apperr.Validation("endpoint is required"))
		return
	}

	if err := h.store.DeleteUserPushSubscription(r.Context(), user.ID, req.Endpoint); err != nil {
		writeError(w, h.logger, r, apperr.Internal("Failed to remove subscription", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// PublicKey returns the VAPID application server key. No auth required.
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Push notifications are not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return apperr.Validation("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || !strings.EqualFold(u.Scheme, "https") {
		return apperr.Validation("endpoint must be an https URL")
	}
	return nil
}
