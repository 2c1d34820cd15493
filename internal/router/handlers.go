package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/pkg/protocol"
	"github.com/taskwire/taskwire/pkg/state"
)

// Every handler follows the same shape: validate, authorize, persist, route
// the confirmed result, acknowledge the originator. A mutation that failed to
// persist is never broadcast.

// fail reports a handler error to the originator only: as a failure ack when
// one was requested, as a scoped error event otherwise.
func (r *EventRouter) fail(conn *state.Connection, seq uint64, message string) {
	if seq != 0 {
		r.ack(conn, seq, protocol.ErrorPayload{Error: message})
		return
	}
	r.sendError(conn, message)
}

func (r *EventRouter) handleIdentify(conn *state.Connection, body protocol.Identify) {
	if conn.AuthUserID != "" && body.UserID != conn.AuthUserID {
		r.logger.Warn("Identify rejected: payload contradicts session identity",
			slog.String("connID", conn.ID.String()),
			slog.String("claimed", body.UserID),
		)
		r.sendError(conn, "identity does not match session")
		return
	}
	// The identity bound here is the authenticated one, never the payload's.
	userID := conn.AuthUserID
	if userID == "" {
		userID = body.UserID
	}
	r.state.AssociateUser(conn.ID, userID)
}

func (r *EventRouter) handleJoinRoom(ctx context.Context, conn *state.Connection, seq uint64, body protocol.JoinRoom) {
	if conn.UserID == "" {
		r.sendError(conn, "not identified")
		r.ack(conn, seq, protocol.JoinAck{Success: false, Message: "not identified"})
		return
	}
	if !r.gate.AuthorizeJoin(ctx, conn.UserID, body.RoomID) {
		r.sendError(conn, "User not in room")
		r.ack(conn, seq, protocol.JoinAck{Success: false, Message: "User not in room"})
		return
	}
	if err := r.state.JoinRoom(conn.ID, body.RoomID); err != nil {
		r.logger.Warn("Join raced connection teardown", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}
	r.BroadcastToRoomExcept(body.RoomID, conn.ID, protocol.EventUserJoined, protocol.UserPresence{UserID: conn.UserID})
	r.ack(conn, seq, protocol.JoinAck{Success: true})
}

func (r *EventRouter) handleLeaveRoom(conn *state.Connection, body protocol.LeaveRoom) {
	// Safe to call when not a member; leaving twice is a no-op.
	r.state.LeaveRoom(conn.ID, body.RoomID)
	r.BroadcastToRoom(body.RoomID, protocol.EventUserLeft, protocol.UserPresence{UserID: conn.UserID})
}

func (r *EventRouter) handleCreateTask(ctx context.Context, conn *state.Connection, seq uint64, body protocol.CreateTask) {
	if conn.UserID == "" {
		r.fail(conn, seq, "not identified")
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		r.fail(conn, seq, "title is required")
		return
	}
	if body.RoomID != "" && !r.gate.AuthorizeJoin(ctx, conn.UserID, body.RoomID) {
		r.fail(conn, seq, "User not in room")
		return
	}

	task, err := r.tasks.CreateTask(ctx, store.NewTask{
		Title:       strings.TrimSpace(body.Title),
		Description: body.Description,
		RoomID:      body.RoomID,
		// The owner is always the authenticated session's user.
		OwnerID: conn.UserID,
	})
	if err != nil {
		r.logger.Error("Failed to create task", slog.String("userID", conn.UserID), slog.Any("error", err))
		r.fail(conn, seq, "Failed to create task")
		return
	}

	r.routeTask(task, protocol.EventTaskCreated, task)
	r.ack(conn, seq, task)
}

func (r *EventRouter) handleUpdateTask(ctx context.Context, conn *state.Connection, seq uint64, body protocol.UpdateTask) {
	if conn.UserID == "" {
		r.fail(conn, seq, "not identified")
		return
	}
	if body.Status != nil && !protocol.ValidStatus(*body.Status) {
		r.fail(conn, seq, "invalid status")
		return
	}

	task, err := r.tasks.UpdateTask(ctx, body.TaskID, store.TaskPatch{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
	})
	if errors.Is(err, store.ErrNotFound) {
		r.fail(conn, seq, "task not found")
		return
	}
	if err != nil {
		r.logger.Error("Failed to update task", slog.String("taskID", body.TaskID), slog.Any("error", err))
		r.fail(conn, seq, "Failed to update task")
		return
	}

	// Scope comes from the task's stored room association, not the payload.
	r.routeTask(task, protocol.EventTaskUpdated, task)
	r.ack(conn, seq, task)
}

func (r *EventRouter) handleDeleteTask(ctx context.Context, conn *state.Connection, seq uint64, body protocol.DeleteTask) {
	if conn.UserID == "" {
		r.fail(conn, seq, "not identified")
		return
	}

	// Resolve the delivery scope before the row disappears.
	task, err := r.tasks.GetTask(ctx, body.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		r.ack(conn, seq, protocol.DeleteAck{Success: false, Error: "task not found"})
		return
	}
	if err != nil {
		r.logger.Error("Failed to load task for deletion", slog.String("taskID", body.TaskID), slog.Any("error", err))
		r.ack(conn, seq, protocol.DeleteAck{Success: false, Error: "Failed to delete task"})
		return
	}

	if err := r.tasks.DeleteTask(ctx, body.TaskID); err != nil {
		r.logger.Error("Failed to delete task", slog.String("taskID", body.TaskID), slog.Any("error", err))
		r.ack(conn, seq, protocol.DeleteAck{Success: false, Error: "Failed to delete task"})
		return
	}

	// Only the identifier travels as the deletion signal.
	r.routeTask(task, protocol.EventTaskDeleted, protocol.TaskDeleted{TaskID: task.ID})
	r.ack(conn, seq, protocol.DeleteAck{Success: true})
}

func (r *EventRouter) handleUserEditing(conn *state.Connection, body protocol.UserEditing) {
	if conn.UserID == "" {
		return // transient signal, nothing to report
	}
	r.BroadcastToRoomExcept(body.RoomID, conn.ID, protocol.EventUserEditing,
		protocol.EditingNotice{UserID: conn.UserID, TaskID: body.TaskID})
}

func (r *EventRouter) handleConflict(conn *state.Connection, body protocol.Conflict) {
	if conn.UserID == "" {
		return
	}
	r.BroadcastToRoomExcept(body.RoomID, conn.ID, protocol.EventConflict,
		protocol.ConflictNotice{TaskID: body.TaskID, UserID: conn.UserID})
}
