// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efteam/backend/apperr"
	"github.com/efchatnet/efteam/backend/chat"
	"github.com/efchatnet/efteam/backend/models"
)

// MessageService is the thread and pagination engine.
type MessageService interface {
	ListTopLevel(ctx context.Context, actorID, channelID, cursor string, limit int) (*models.MessagePage, error)
	ListReplies(ctx context.Context, actorID, messageID string) ([]models.Message, error)
	Create(ctx context.Context, actor *models.User, in chat.CreateInput) (*models.Message, error)
	Edit(ctx context.Context, actorID, messageID, content string) (*models.Message, error)
	Delete(ctx context.Context, actorID, messageID string) error
	MarkRead(ctx context.Context, actorID, channelID string) error
}

type MessageHandler struct {
	svc    MessageService
	logger *slog.Logger
}

func NewMessageHandler(svc MessageService, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{svc: svc, logger: logger}
}

// ListMessages returns one page of top-level history
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	channelID := mux.Vars(r)["channelId"]

	limit := chat.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, r, apperr.Validation("limit must be a number"))
			return
		}
		limit = n
	}

	page, err := h.svc.ListTopLevel(r.Context(), user.ID, channelID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateMessage posts a message or a thread reply
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Content     string              `json:"content"`
		ParentID    string              `json:"parentId"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	msg, err := h.svc.Create(r.Context(), user, chat.CreateInput{
		ChannelID:   mux.Vars(r)["channelId"],
		Content:     req.Content,
		ParentID:    req.ParentID,
		Attachments: req.Attachments,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead moves the caller's read marker for a channel
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(r.Context(), user.ID, mux.Vars(r)["channelId"]); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "marked_read"})
}

// ListReplies returns a thread's replies, oldest first
func (h *MessageHandler) ListReplies(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	replies, err := h.svc.ListReplies(r.Context(), user.ID, mux.Vars(r)["messageId"])
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": replies,
		"count":    len(replies),
	})
}

func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	msg, err := h.svc.Edit(r.Context(), user.ID, mux.Vars(r)["messageId"], req.Content)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user.ID, mux.Vars(r)["messageId"]); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
