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
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efteam/backend/chat"
	"github.com/efchatnet/efteam/backend/models"
)

// WorkspaceService covers the workspace-scoped engine operations.
type WorkspaceService interface {
	Search(ctx context.Context, actorID string, in chat.SearchInput) ([]models.Message, error)
	UnreadCounts(ctx context.Context, actorID, workspaceID string) (map[string]int, error)
	OpenDirect(ctx context.Context, actor *models.User, workspaceID string, memberIDs []string) (*models.Channel, bool, error)
}

type WorkspaceHandler struct {
	svc    WorkspaceService
	logger *slog.Logger
}

func NewWorkspaceHandler(svc WorkspaceService, logger *slog.Logger) *WorkspaceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceHandler{svc: svc, logger: logger}
}

// Search finds messages across the channels the caller can read
func (h *WorkspaceHandler) Search(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	results, err := h.svc.Search(r.Context(), user.ID, chat.SearchInput{
		WorkspaceID: mux.Vars(r)["workspaceId"],
		Query:       q.Get("q"),
		ChannelID:   q.Get("channelId"),
		AuthorID:    q.Get("authorId"),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": results,
		"count":    len(results),
	})
}

// UnreadCounts reports unread messages per channel
func (h *WorkspaceHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	counts, err := h.svc.UnreadCounts(r.Context(), user.ID, mux.Vars(r)["workspaceId"])
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": counts})
}

// OpenDirect finds or creates a direct-message channel
func (h *WorkspaceHandler) OpenDirect(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		MemberIDs []string `json:"memberIds"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	ch, created, err := h.svc.OpenDirect(r.Context(), user, mux.Vars(r)["workspaceId"], req.MemberIDs)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ch)
}
