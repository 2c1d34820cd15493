// Package router is the real-time synchronization core: it decodes inbound
// event frames, runs the mutation handlers, and fans confirmed results out to
// the right set of connections.
package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/pkg/protocol"
	"github.com/taskwire/taskwire/pkg/state"
)

type EventRouter struct {
	logger *slog.Logger
	state  state.Manager
	tasks  store.TaskStore
	gate   *MembershipGate
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, tasks store.TaskStore, gate *MembershipGate) *EventRouter {
	return &EventRouter{
		logger: logger.With(slog.String("component", "event_router")),
		state:  stateManager,
		tasks:  tasks,
		gate:   gate,
	}
}

// HandleMessage is the entry point for every inbound frame. Errors never
// escape: each one becomes an ack or a scoped error event, so a failing
// operation cannot affect other connections.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	decoded, err := protocol.Decode(msg)
	if err != nil {
		r.logger.Warn("Rejected malformed frame", slog.String("connID", connID.String()), slog.Any("error", err))
		conn, ok := r.state.GetConnection(connID)
		if ok {
			r.sendError(conn, err.Error())
		}
		return
	}

	conn, ok := r.state.GetConnection(connID)
	if !ok {
		// The connection deregistered while the frame was in flight.
		r.logger.Debug("Dropping frame from unknown connection", slog.String("connID", connID.String()))
		return
	}

	r.logger.Debug("Handling event", slog.String("event", decoded.Event), slog.String("connID", connID.String()))
	switch body := decoded.Body.(type) {
	case protocol.Identify:
		r.handleIdentify(conn, body)
	case protocol.JoinRoom:
		r.handleJoinRoom(ctx, conn, decoded.Seq, body)
	case protocol.LeaveRoom:
		r.handleLeaveRoom(conn, body)
	case protocol.CreateTask:
		r.handleCreateTask(ctx, conn, decoded.Seq, body)
	case protocol.UpdateTask:
		r.handleUpdateTask(ctx, conn, decoded.Seq, body)
	case protocol.DeleteTask:
		r.handleDeleteTask(ctx, conn, decoded.Seq, body)
	case protocol.UserEditing:
		r.handleUserEditing(conn, body)
	case protocol.Conflict:
		r.handleConflict(conn, body)
	}
}

// sendError emits an error event to a single connection.
func (r *EventRouter) sendError(conn *state.Connection, message string) {
	frame, err := protocol.Encode(protocol.EventError, 0, protocol.ErrorPayload{Error: message})
	if err != nil {
		r.logger.Error("Failed to encode error event", slog.Any("error", err))
		return
	}
	conn.Transport.Send(frame)
}

// ack answers a frame that requested acknowledgment. Frames without a seq
// carry no acknowledgment contract and are skipped.
func (r *EventRouter) ack(conn *state.Connection, seq uint64, payload any) {
	if seq == 0 {
		return
	}
	frame, err := protocol.Encode(protocol.EventAck, seq, payload)
	if err != nil {
		r.logger.Error("Failed to encode ack", slog.Any("error", err))
		return
	}
	conn.Transport.Send(frame)
}
