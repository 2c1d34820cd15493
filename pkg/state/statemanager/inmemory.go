package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskwire/taskwire/pkg/state"
	"github.com/taskwire/taskwire/pkg/transport"
)

// InMemoryManager is the single-process implementation of state.Manager.
// One mutex guards all three maps: deregistration must remove a connection
// from the connection table, its user's set, and every joined room atomically,
// so no broadcast ever resolves a stale fan-out target.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]map[uuid.UUID]*state.Connection
	rooms map[string]map[uuid.UUID]*state.Connection

	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]map[uuid.UUID]*state.Connection),
		rooms:  make(map[string]map[uuid.UUID]*state.Connection),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(t transport.Sender, ipAddr, authUserID string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := t.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	conn := &state.Connection{
		ID:         connID,
		IPAddress:  ipAddr,
		Transport:  t,
		AuthUserID: authUserID,
		Rooms:      make(map[string]struct{}),
		CreatedAt:  time.Now(),
	}
	m.conns[connID] = conn
	// Index the upgrade identity right away: connection caps and cycling must
	// count authenticated connections whether or not they ever identify.
	if authUserID != "" {
		m.indexUser(authUserID, conn)
	}
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return conn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered
		return nil
	}
	delete(m.conns, connID)

	// detach from the user index; drop the user entry once empty so the
	// index does not grow without bound
	if key := identityKey(conn); key != "" {
		if set, ok := m.users[key]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.users, key)
			}
		}
		m.logger.Debug("Detached connection from user", slog.String("connID", connID.String()), slog.String("userID", key))
	}

	// drop out of every joined broadcast group
	for roomID := range conn.Rooms {
		if group, ok := m.rooms[roomID]; ok {
			delete(group, connID)
			if len(group) == 0 {
				delete(m.rooms, roomID)
				m.logger.Debug("Removed empty room group", slog.String("roomID", roomID))
			}
		}
	}

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- User index ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// The connection closed before the identify message was processed.
		// Favor availability: nothing to clean up later, so just drop it.
		m.logger.Debug("Ignoring identify for unknown connection", slog.String("connID", connID.String()))
		return
	}

	if conn.UserID == userID {
		return // repeated identify with the same pair
	}

	old := identityKey(conn)
	conn.UserID = userID
	key := identityKey(conn)
	if key == old {
		// indexed under the upgrade identity at registration; the handshake
		// only confirmed it
		return
	}
	if old != "" {
		// re-identify as a different user: move between index entries
		if set, ok := m.users[old]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.users, old)
			}
		}
	}
	if key != "" {
		m.indexUser(key, conn)
	}

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", userID))
}

// identityKey is the user-index key for a connection: the upgrade identity
// when one was proven, otherwise whatever identify bound.
func identityKey(conn *state.Connection) string {
	if conn.AuthUserID != "" {
		return conn.AuthUserID
	}
	return conn.UserID
}

// indexUser adds the connection to a user's set, creating it on first use.
// Callers hold the write lock.
func (m *InMemoryManager) indexUser(userID string, conn *state.Connection) {
	set, ok := m.users[userID]
	if !ok {
		set = make(map[uuid.UUID]*state.Connection)
		m.users[userID] = set
	}
	set[conn.ID] = conn
}

func (m *InMemoryManager) UserConnections(userID string) []transport.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.users[userID]
	conns := make([]transport.Sender, 0, len(set))
	for _, c := range set {
		conns = append(conns, c.Transport)
	}
	return conns
}

func (m *InMemoryManager) UserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, conn := range m.users[userID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest, true
}

// --- Broadcast groups ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot join room: connection not found")
	}
	if _, joined := conn.Rooms[roomID]; joined {
		return nil // re-join is idempotent
	}

	group, ok := m.rooms[roomID]
	if !ok {
		group = make(map[uuid.UUID]*state.Connection)
		m.rooms[roomID] = group
	}
	group[connID] = conn
	conn.Rooms[roomID] = struct{}{}

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if ok {
		delete(conn.Rooms, roomID)
	}

	group, ok := m.rooms[roomID]
	if !ok {
		return // not a member, nothing to do
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room group", slog.String("roomID", roomID))
	}
}

func (m *InMemoryManager) RoomConnections(roomID string) []transport.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group := m.rooms[roomID]
	conns := make([]transport.Sender, 0, len(group))
	for _, c := range group {
		conns = append(conns, c.Transport)
	}
	return conns
}
