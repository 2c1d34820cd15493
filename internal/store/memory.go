package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/taskwire/taskwire/pkg/protocol"
)

// MemoryStore is a map-backed Store used in tests and throwaway setups.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]protocol.Task
	rooms       map[string]Room
	memberships map[string]map[string]struct{} // roomID -> set of userID
	users       map[string]User
	usersByMail map[string]string // email -> userID

	// FailNextWrite makes the next mutating call return this error, then
	// clears itself. Lets tests exercise the persistence-failure path.
	FailNextWrite error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[string]protocol.Task),
		rooms:       make(map[string]Room),
		memberships: make(map[string]map[string]struct{}),
		users:       make(map[string]User),
		usersByMail: make(map[string]string),
	}
}

func (s *MemoryStore) takeWriteFailure() error {
	err := s.FailNextWrite
	s.FailNextWrite = nil
	return err
}

// --- Tasks ---

func (s *MemoryStore) CreateTask(_ context.Context, in NewTask) (*protocol.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := protocol.Task{
		ID:          ulid.Make().String(),
		Title:       in.Title,
		Description: in.Description,
		Status:      protocol.StatusPending,
		RoomID:      in.RoomID,
		OwnerID:     in.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[task.ID] = task
	return &task, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, taskID string, patch TaskPatch) (*protocol.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return nil, err
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = protocol.TaskStatus(*patch.Status)
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[taskID] = task
	return &task, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return err
	}

	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*protocol.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (s *MemoryStore) GetTasksByRoom(_ context.Context, roomID string) ([]protocol.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []protocol.Task
	for _, t := range s.tasks {
		if t.RoomID == roomID {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *MemoryStore) GetPrivateTasks(_ context.Context, ownerID string) ([]protocol.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []protocol.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && t.RoomID == "" {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// --- Rooms ---

func (s *MemoryStore) CreateRoom(_ context.Context, name, creatorID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	room := Room{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	s.rooms[room.ID] = room
	s.memberships[room.ID] = map[string]struct{}{creatorID: {}}
	return &room, nil
}

func (s *MemoryStore) AddUserToRoom(_ context.Context, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return err
	}

	members, ok := s.memberships[roomID]
	if !ok {
		members = make(map[string]struct{})
		s.memberships[roomID] = members
	}
	members[userID] = struct{}{}
	return nil
}

func (s *MemoryStore) IsUserInRoom(_ context.Context, userID, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memberships[roomID][userID]
	return ok, nil
}

func (s *MemoryStore) RoomsForUser(_ context.Context, userID string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []Room
	for roomID, members := range s.memberships {
		if _, ok := members[userID]; ok {
			rooms = append(rooms, s.rooms[roomID])
		}
	}
	return rooms, nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, username, email, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeWriteFailure(); err != nil {
		return nil, err
	}

	if _, exists := s.usersByMail[email]; exists {
		return nil, ErrDuplicate
	}
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[user.ID] = user
	s.usersByMail[email] = user.ID
	return &user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByMail[email]
	if !ok {
		return nil, ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}
