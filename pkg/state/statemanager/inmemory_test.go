package statemanager_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/taskwire/taskwire/pkg/state/statemanager"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

// fakeSender stands in for a transport connection.
type fakeSender struct {
	id uuid.UUID
	mu sync.Mutex
	n  int
}

func newFakeSender() *fakeSender { return &fakeSender{id: uuid.New()} }

func (f *fakeSender) ID() uuid.UUID { return f.id }
func (f *fakeSender) Send(_ []byte) {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}
func (f *fakeSender) Close(_ error) {}

// --- Connection and User Management Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	conn := newFakeSender()

	// 1. Register
	stateConn, err := m.RegisterConnection(conn, "127.0.0.1", "")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if stateConn.ID != conn.ID() {
		t.Errorf("Registered connection ID mismatch")
	}

	// Registering the same connection twice must fail.
	if _, err := m.RegisterConnection(conn, "127.0.0.1", ""); err == nil {
		t.Error("Expected error on duplicate registration, got nil")
	}

	// 2. Get
	retrieved, found := m.GetConnection(conn.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrieved.ID != conn.ID() {
		t.Errorf("Retrieved connection ID mismatch")
	}

	// 3. Deregister
	if err := m.DeregisterConnection(conn.ID()); err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if _, found := m.GetConnection(conn.ID()); found {
		t.Error("Found connection after it should have been deregistered")
	}

	// Deregistering again is a no-op.
	if err := m.DeregisterConnection(conn.ID()); err != nil {
		t.Errorf("Second DeregisterConnection returned error: %v", err)
	}
}

func TestUserAssociationAndConnectionCount(t *testing.T) {
	m := newTestManager()
	userID := "user-1"
	conn1 := newFakeSender()
	conn2 := newFakeSender()

	m.RegisterConnection(conn1, "1.1.1.1", "")
	m.RegisterConnection(conn2, "2.2.2.2", "")

	m.AssociateUser(conn1.ID(), userID)
	if count := m.UserConnectionCount(userID); count != 1 {
		t.Errorf("Expected connection count 1, got %d", count)
	}

	// Repeated association with the same pair is idempotent.
	m.AssociateUser(conn1.ID(), userID)
	if count := m.UserConnectionCount(userID); count != 1 {
		t.Errorf("Expected connection count 1 after repeated associate, got %d", count)
	}

	m.AssociateUser(conn2.ID(), userID)
	if count := m.UserConnectionCount(userID); count != 2 {
		t.Errorf("Expected connection count 2, got %d", count)
	}

	// Deregister one connection: it must leave the user's set immediately.
	m.DeregisterConnection(conn1.ID())
	if count := m.UserConnectionCount(userID); count != 1 {
		t.Errorf("Expected connection count 1 after deregister, got %d", count)
	}
	senders := m.UserConnections(userID)
	if len(senders) != 1 || senders[0].ID() != conn2.ID() {
		t.Errorf("Expected only conn2 to remain for user")
	}

	// Last connection gone: the user entry disappears entirely.
	m.DeregisterConnection(conn2.ID())
	if count := m.UserConnectionCount(userID); count != 0 {
		t.Errorf("Expected connection count 0, got %d", count)
	}
	if conns := m.UserConnections(userID); len(conns) != 0 {
		t.Errorf("Expected no connections for user, got %d", len(conns))
	}
}

func TestUpgradeIdentityIndexedAtRegistration(t *testing.T) {
	m := newTestManager()
	userID := "user-1"
	conn1 := newFakeSender()
	conn2 := newFakeSender()

	// Authenticated connections count from registration, before any identify.
	c1, err := m.RegisterConnection(conn1, "1.1.1.1", userID)
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	c2, _ := m.RegisterConnection(conn2, "2.2.2.2", userID)
	c2.CreatedAt = c1.CreatedAt.Add(1)

	if count := m.UserConnectionCount(userID); count != 2 {
		t.Errorf("Expected connection count 2 before identify, got %d", count)
	}
	oldest, found := m.FindOldestUserConnection(userID)
	if !found || oldest.ID != conn1.ID() {
		t.Errorf("Expected conn1 as oldest before identify, found=%v", found)
	}

	// The identify handshake confirms the pair without double-indexing.
	m.AssociateUser(conn1.ID(), userID)
	if count := m.UserConnectionCount(userID); count != 2 {
		t.Errorf("Expected connection count 2 after identify, got %d", count)
	}

	// Deregistering an unidentified connection still cleans the index.
	m.DeregisterConnection(conn2.ID())
	if count := m.UserConnectionCount(userID); count != 1 {
		t.Errorf("Expected connection count 1 after deregister, got %d", count)
	}
}

func TestAssociateUnknownConnectionIsNoOp(t *testing.T) {
	m := newTestManager()

	// The connection closed before the identify message was processed.
	m.AssociateUser(uuid.New(), "ghost-user")

	if count := m.UserConnectionCount("ghost-user"); count != 0 {
		t.Errorf("Expected no connections for ghost user, got %d", count)
	}
}

func TestFindOldestUserConnection(t *testing.T) {
	m := newTestManager()
	userID := "user-cycle"
	conn1 := newFakeSender()
	conn2 := newFakeSender()

	c1, _ := m.RegisterConnection(conn1, "1.1.1.1", "")
	c2, _ := m.RegisterConnection(conn2, "2.2.2.2", "")
	// Registration order can collapse to the same timestamp; force an order.
	c2.CreatedAt = c1.CreatedAt.Add(1)

	m.AssociateUser(conn1.ID(), userID)
	m.AssociateUser(conn2.ID(), userID)

	oldest, found := m.FindOldestUserConnection(userID)
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID() {
		t.Errorf("Expected oldest connection ID to be %s, got %s", conn1.ID(), oldest.ID)
	}
}

// --- Broadcast Group Tests ---

func TestRoomJoinLeave(t *testing.T) {
	m := newTestManager()
	roomID := "test-room"
	conn1, conn2 := newFakeSender(), newFakeSender()
	m.RegisterConnection(conn1, "1.1.1.1", "")
	m.RegisterConnection(conn2, "2.2.2.2", "")

	if err := m.JoinRoom(conn1.ID(), roomID); err != nil {
		t.Fatalf("conn1 failed to join room: %v", err)
	}
	if err := m.JoinRoom(conn2.ID(), roomID); err != nil {
		t.Fatalf("conn2 failed to join room: %v", err)
	}

	if got := len(m.RoomConnections(roomID)); got != 2 {
		t.Fatalf("Expected 2 connections in room, got %d", got)
	}

	// Re-join is idempotent.
	if err := m.JoinRoom(conn1.ID(), roomID); err != nil {
		t.Fatalf("Re-join returned error: %v", err)
	}
	if got := len(m.RoomConnections(roomID)); got != 2 {
		t.Fatalf("Expected 2 connections after re-join, got %d", got)
	}

	// Leave, then leave again: no error, no duplicate removal.
	m.LeaveRoom(conn1.ID(), roomID)
	m.LeaveRoom(conn1.ID(), roomID)
	if got := len(m.RoomConnections(roomID)); got != 1 {
		t.Fatalf("Expected 1 connection after leave, got %d", got)
	}

	// Empty room group is cleaned up.
	m.LeaveRoom(conn2.ID(), roomID)
	if got := len(m.RoomConnections(roomID)); got != 0 {
		t.Fatalf("Expected empty room, got %d connections", got)
	}
}

func TestDeregisterRemovesFromRooms(t *testing.T) {
	m := newTestManager()
	conn := newFakeSender()
	m.RegisterConnection(conn, "1.1.1.1", "")
	m.AssociateUser(conn.ID(), "user-x")
	m.JoinRoom(conn.ID(), "room-a")
	m.JoinRoom(conn.ID(), "room-b")

	m.DeregisterConnection(conn.ID())

	// No stale fan-out targets anywhere.
	if got := len(m.RoomConnections("room-a")); got != 0 {
		t.Errorf("room-a still has %d connections after deregister", got)
	}
	if got := len(m.RoomConnections("room-b")); got != 0 {
		t.Errorf("room-b still has %d connections after deregister", got)
	}
	if got := len(m.UserConnections("user-x")); got != 0 {
		t.Errorf("user index still has %d connections after deregister", got)
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	m := newTestManager()
	if err := m.JoinRoom(uuid.New(), "room"); err == nil {
		t.Error("Expected error joining with unknown connection, got nil")
	}
}
