// Package store is the persistence collaborator behind the sync core. The
// core only ever talks to the Store interface; the sqlite implementation
// backs production and the memory implementation backs tests.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/taskwire/taskwire/pkg/protocol"
)

// ErrNotFound is returned when the referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a uniqueness
// constraint, e.g. two registrations racing on the same email.
var ErrDuplicate = errors.New("duplicate record")

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Room struct {
	ID        string    `json:"roomId"`
	Name      string    `json:"roomName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTask is the input for task creation. The owner comes from the
// authenticated session, never from a client payload.
type NewTask struct {
	Title       string
	Description string
	RoomID      string
	OwnerID     string
}

// TaskPatch is a partial update; nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
}

type TaskStore interface {
	CreateTask(ctx context.Context, in NewTask) (*protocol.Task, error)
	// UpdateTask merges the patch into the stored task and returns the
	// post-update state.
	UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*protocol.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (*protocol.Task, error)
	GetTasksByRoom(ctx context.Context, roomID string) ([]protocol.Task, error)
	// GetPrivateTasks returns the owner's tasks that have no room association.
	GetPrivateTasks(ctx context.Context, ownerID string) ([]protocol.Task, error)
}

type RoomStore interface {
	CreateRoom(ctx context.Context, name, creatorID string) (*Room, error)
	AddUserToRoom(ctx context.Context, userID, roomID string) error
	IsUserInRoom(ctx context.Context, userID, roomID string) (bool, error)
	RoomsForUser(ctx context.Context, userID string) ([]Room, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
}

type Store interface {
	TaskStore
	RoomStore
	UserStore
}
