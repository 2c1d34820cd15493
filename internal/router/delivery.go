package router

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/taskwire/taskwire/pkg/protocol"
)

// BroadcastToRoom delivers an event to every connection currently joined to
// the room, the originator included: the originating client reconciles its
// optimistic state against the echoed event like everyone else.
func (r *EventRouter) BroadcastToRoom(roomID, event string, payload any) {
	r.broadcastExcept(roomID, uuid.Nil, event, payload)
}

// BroadcastToRoomExcept is the presence variant: the named connection is
// skipped, matching join/leave/editing signals that only inform the others.
func (r *EventRouter) BroadcastToRoomExcept(roomID string, skip uuid.UUID, event string, payload any) {
	r.broadcastExcept(roomID, skip, event, payload)
}

func (r *EventRouter) broadcastExcept(roomID string, skip uuid.UUID, event string, payload any) {
	frame, err := protocol.Encode(event, 0, payload)
	if err != nil {
		r.logger.Error("Failed to encode room broadcast", slog.String("event", event), slog.Any("error", err))
		return
	}
	conns := r.state.RoomConnections(roomID)
	sent := 0
	for _, conn := range conns {
		if conn.ID() == skip {
			continue
		}
		conn.Send(frame)
		sent++
	}
	r.logger.Debug("Broadcast to room",
		slog.String("roomID", roomID),
		slog.String("event", event),
		slog.Int("connections", sent),
	)
}

// DeliverToUser delivers an event to every live connection of one user. An
// offline user simply receives nothing: at-most-once, best-effort.
func (r *EventRouter) DeliverToUser(userID, event string, payload any) {
	frame, err := protocol.Encode(event, 0, payload)
	if err != nil {
		r.logger.Error("Failed to encode user delivery", slog.String("event", event), slog.Any("error", err))
		return
	}
	conns := r.state.UserConnections(userID)
	for _, conn := range conns {
		conn.Send(frame)
	}
	r.logger.Debug("Delivered to user",
		slog.String("userID", userID),
		slog.String("event", event),
		slog.Int("connections", len(conns)),
	)
}

// routeTask applies the one scope rule every mutation handler must use: a
// task with a room association goes to the room's broadcast group; a private
// task goes only to its owner's connections.
func (r *EventRouter) routeTask(task *protocol.Task, event string, payload any) {
	if task.RoomID != "" {
		r.BroadcastToRoom(task.RoomID, event, payload)
		return
	}
	r.DeliverToUser(task.OwnerID, event, payload)
}
