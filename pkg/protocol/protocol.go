// Package protocol defines the closed set of event messages exchanged between
// clients and the server. Every inbound event has exactly one payload shape;
// anything else is rejected at the boundary.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound event names (client -> server).
const (
	EventIdentify    = "identify"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventCreateTask  = "create_task"
	EventUpdateTask  = "update_task"
	EventDeleteTask  = "delete_task"
	EventUserEditing = "user_editing"
	EventConflict    = "conflict"
)

// Outbound event names (server -> client).
const (
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventTaskCreated = "task_created"
	EventTaskUpdated = "task_updated"
	EventTaskDeleted = "task_deleted"
	EventError       = "error"
	EventAck         = "ack"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

func ValidStatus(s string) bool {
	switch TaskStatus(s) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is the wire representation of a task record. A task with an empty
// RoomID is private: it is only ever delivered to its owner's connections.
type Task struct {
	ID          string     `json:"taskId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	RoomID      string     `json:"roomId,omitempty"`
	OwnerID     string     `json:"ownerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Frame is the envelope for every message in both directions. A non-zero Seq
// on an inbound frame requests an acknowledgment; the server answers with an
// "ack" frame carrying the same Seq.
type Frame struct {
	Event   string          `json:"event"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Inbound payloads ---

type Identify struct {
	UserID string `json:"userId"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type CreateTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

// UpdateTask carries a partial merge: nil fields are left unchanged.
type UpdateTask struct {
	TaskID      string  `json:"taskId"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type DeleteTask struct {
	TaskID string `json:"taskId"`
	RoomID string `json:"roomId,omitempty"`
}

type UserEditing struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	TaskID string `json:"taskId"`
}

type Conflict struct {
	RoomID string `json:"roomId"`
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

// --- Outbound payloads ---

type UserPresence struct {
	UserID string `json:"userId"`
}

type EditingNotice struct {
	UserID string `json:"userId"`
	TaskID string `json:"taskId"`
}

type ConflictNotice struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type TaskDeleted struct {
	TaskID string `json:"taskId"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// JoinAck is the acknowledgment body for join_room.
type JoinAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DeleteAck is the acknowledgment body for delete_task.
type DeleteAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
