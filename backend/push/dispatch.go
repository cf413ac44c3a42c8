// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/efchatnet/efteam/backend/models"
)

// TaskSend is the asynq task type for one user's push fan-out.
const TaskSend = "push:send"

// InlineDispatcher runs each delivery on a detached goroutine. The caller's
// cancellation does not stop it.
type InlineDispatcher struct {
	worker *Worker
	logger *slog.Logger
}

func NewInlineDispatcher(worker *Worker, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{worker: worker, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, userID string, payload models.PushPayload) {
	if !d.worker.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := d.worker.SendToUser(ctx, userID, payload); err != nil {
			d.logger.Error("push fan-out", "user_id", userID, "error", err)
		}
	}()
}

type sendTask struct {
	UserID  string             `json:"userId"`
	Payload models.PushPayload `json:"payload"`
}

// QueueDispatcher enqueues deliveries on asynq. Tasks are never retried.
type QueueDispatcher struct {
	client *asynq.Client
	logger *slog.Logger
}

func NewQueueDispatcher(client *asynq.Client, logger *slog.Logger) *QueueDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueDispatcher{client: client, logger: logger}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, userID string, payload models.PushPayload) {
	task, err := NewSendTask(userID, payload)
	if err != nil {
		d.logger.Error("build push task", "user_id", userID, "error", err)
		return
	}
	if _, err := d.client.EnqueueContext(context.WithoutCancel(ctx), task); err != nil {
		d.logger.Error("enqueue push task", "user_id", userID, "error", err)
	}
}

// NewSendTask builds a push:send task with retries disabled.
func NewSendTask(userID string, payload models.PushPayload) (*asynq.Task, error) {
	body, err := json.Marshal(sendTask{UserID: userID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSend, body, asynq.MaxRetry(0)), nil
}

// HandleSendTask is the asynq handler for TaskSend.
func (w *Worker) HandleSendTask(ctx context.Context, t *asynq.Task) error {
	var task sendTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode %s: %v: %w", TaskSend, err, asynq.SkipRetry)
	}
	return w.SendToUser(ctx, task.UserID, task.Payload)
}

// Register wires the worker's handlers into mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskSend, w.HandleSendTask)
}
