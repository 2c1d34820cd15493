package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/taskwire/taskwire/pkg/transport"
)

// Connection is the server-side record of a single live network session.
// UserID stays empty until the identify handshake completes; Rooms tracks the
// broadcast groups this connection has joined.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport transport.Sender
	// AuthUserID is the identity proven at upgrade time (token subject),
	// set at registration and indexed immediately for per-user accounting.
	AuthUserID string
	// UserID is filled by the identify handshake via Manager.AssociateUser.
	UserID    string
	Rooms     map[string]struct{}
	CreatedAt time.Time
}
