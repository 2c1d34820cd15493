package state

import (
	"github.com/google/uuid"
	"github.com/taskwire/taskwire/pkg/transport"
)

// Manager tracks live connections, the user-to-connections index used for
// private delivery, and per-room broadcast groups. Writers are connection
// lifecycle events only; mutation handlers read.
type Manager interface {
	// --- Connection lifecycle ---
	// RegisterConnection records a new connection. authUserID is the identity
	// proven at upgrade time; when non-empty it is indexed immediately, so
	// per-user counts and cycling see the connection before any identify
	// frame arrives.
	RegisterConnection(t transport.Sender, ipAddr, authUserID string) (*Connection, error)
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	AllConnections() []*Connection

	// --- User index ---
	// AssociateUser completes the identify handshake. Idempotent; a connection
	// registered with an upgrade identity is already indexed and only gains
	// its UserID here. Associating an unknown connection is a silent no-op
	// (teardown and identify can race).
	AssociateUser(connID uuid.UUID, userID string)
	UserConnections(userID string) []transport.Sender
	UserConnectionCount(userID string) int
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- Broadcast groups ---
	// JoinRoom adds the connection to a room's broadcast group, creating the
	// group on first join. Re-join is idempotent.
	JoinRoom(connID uuid.UUID, roomID string) error
	// LeaveRoom removes the connection from the group; a no-op if the
	// connection is not currently a member.
	LeaveRoom(connID uuid.UUID, roomID string)
	RoomConnections(roomID string) []transport.Sender
}
