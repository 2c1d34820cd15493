package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/pkg/protocol"
)

func TestTaskPartialUpdateMerge(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	task, err := s.CreateTask(ctx, store.NewTask{
		Title:       "Pack bags",
		Description: "Don't forget the charger",
		RoomID:      "r1",
		OwnerID:     "alice",
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Status != protocol.StatusPending {
		t.Errorf("new tasks must start pending, got %s", task.Status)
	}

	status := string(protocol.StatusInProgress)
	updated, err := s.UpdateTask(ctx, task.ID, store.TaskPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.Title != "Pack bags" || updated.Description != "Don't forget the charger" {
		t.Errorf("unset patch fields must be left unchanged: %+v", updated)
	}
	if updated.Status != protocol.StatusInProgress {
		t.Errorf("expected in-progress, got %s", updated.Status)
	}
	if updated.RoomID != "r1" {
		t.Errorf("room association must survive updates, got %q", updated.RoomID)
	}
}

func TestUpdateMissingTaskReturnsNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	title := "x"
	if _, err := s.UpdateTask(context.Background(), "missing", store.TaskPatch{Title: &title}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteTask(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPrivateAndRoomTaskQueries(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	s.CreateTask(ctx, store.NewTask{Title: "room task", RoomID: "r1", OwnerID: "alice"})
	s.CreateTask(ctx, store.NewTask{Title: "private task", OwnerID: "alice"})
	s.CreateTask(ctx, store.NewTask{Title: "other private", OwnerID: "bob"})

	roomTasks, err := s.GetTasksByRoom(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(roomTasks) != 1 || roomTasks[0].Title != "room task" {
		t.Errorf("unexpected room tasks: %+v", roomTasks)
	}

	private, err := s.GetPrivateTasks(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(private) != 1 || private[0].Title != "private task" {
		t.Errorf("unexpected private tasks: %+v", private)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "alice", "alice@example.com", "hash"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateUser(ctx, "imposter", "alice@example.com", "hash2"); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestRoomMembership(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "Trip", "alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	// the creator is a member of their own room
	member, err := s.IsUserInRoom(ctx, "alice", room.ID)
	if err != nil || !member {
		t.Errorf("creator should be a member, got member=%v err=%v", member, err)
	}

	member, _ = s.IsUserInRoom(ctx, "bob", room.ID)
	if member {
		t.Error("bob should not be a member yet")
	}
	if err := s.AddUserToRoom(ctx, "bob", room.ID); err != nil {
		t.Fatal(err)
	}
	member, _ = s.IsUserInRoom(ctx, "bob", room.ID)
	if !member {
		t.Error("bob should be a member after joining")
	}

	rooms, err := s.RoomsForUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Errorf("unexpected rooms for bob: %+v", rooms)
	}
}
