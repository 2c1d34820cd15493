package store

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/taskwire/taskwire/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	room_name  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS rooms_users (
	room_id    TEXT NOT NULL REFERENCES rooms(room_id),
	user_id    TEXT NOT NULL REFERENCES users(user_id),
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS todos (
	todo_id          TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	todo_description TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	room_id          TEXT,
	owner_user_id    TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS todos_room_idx ON todos(room_id);
CREATE INDEX IF NOT EXISTS todos_owner_idx ON todos(owner_user_id);
`

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(slog.String("component", "store_sqlite")),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tasks ---

func (s *SQLiteStore) CreateTask(ctx context.Context, in NewTask) (*protocol.Task, error) {
	now := time.Now().UTC()
	task := &protocol.Task{
		ID:          ulid.Make().String(),
		Title:       in.Title,
		Description: in.Description,
		Status:      protocol.StatusPending,
		RoomID:      in.RoomID,
		OwnerID:     in.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (todo_id, title, todo_description, status, room_id, owner_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Status),
		nullable(task.RoomID), task.OwnerID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert task")
	}
	return task, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*protocol.Task, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "todo_description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, taskID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE todos SET "+strings.Join(sets, ", ")+" WHERE todo_id = ?", args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetTask(ctx, taskID)
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM todos WHERE todo_id = ?", taskID)
	if err != nil {
		return errors.Wrap(err, "failed to delete task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*protocol.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT todo_id, title, todo_description, status, room_id, owner_user_id, created_at, updated_at
		 FROM todos WHERE todo_id = ?`, taskID)
	return scanTask(row)
}

func (s *SQLiteStore) GetTasksByRoom(ctx context.Context, roomID string) ([]protocol.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT todo_id, title, todo_description, status, room_id, owner_user_id, created_at, updated_at
		 FROM todos WHERE room_id = ? ORDER BY created_at`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query room tasks")
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *SQLiteStore) GetPrivateTasks(ctx context.Context, ownerID string) ([]protocol.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT todo_id, title, todo_description, status, room_id, owner_user_id, created_at, updated_at
		 FROM todos WHERE owner_user_id = ? AND room_id IS NULL ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query private tasks")
	}
	defer rows.Close()
	return collectTasks(rows)
}

// --- Rooms ---

func (s *SQLiteStore) CreateRoom(ctx context.Context, name, creatorID string) (*Room, error) {
	now := time.Now().UTC()
	room := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rooms (room_id, room_name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		room.ID, room.Name, room.CreatedAt, room.UpdatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to insert room")
	}
	// the creator is always a member of their own room
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO rooms_users (room_id, user_id, created_at) VALUES (?, ?, ?)",
		room.ID, creatorID, now); err != nil {
		return nil, errors.Wrap(err, "failed to add creator membership")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit room creation")
	}
	return room, nil
}

func (s *SQLiteStore) AddUserToRoom(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms_users (room_id, user_id, created_at) VALUES (?, ?, ?)",
		roomID, userID, time.Now().UTC())
	return errors.Wrap(err, "failed to add room membership")
}

func (s *SQLiteStore) IsUserInRoom(ctx context.Context, userID, roomID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM rooms_users WHERE user_id = ? AND room_id = ?", userID, roomID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check room membership")
	}
	return true, nil
}

func (s *SQLiteStore) RoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.room_id, r.room_name, r.created_at, r.updated_at
		 FROM rooms_users ru JOIN rooms r ON r.room_id = ru.room_id
		 WHERE ru.user_id = ? ORDER BY r.created_at`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query user rooms")
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan room")
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (user_id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert user")
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT user_id, username, email, password_hash, created_at FROM users WHERE email = ?", email)
	return scanUser(row)
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT user_id, username, email, password_hash, created_at FROM users WHERE user_id = ?", userID)
	return scanUser(row)
}

// --- scanning helpers ---

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*protocol.Task, error) {
	var t protocol.Task
	var roomID sql.NullString
	var status string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &roomID, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan task")
	}
	t.Status = protocol.TaskStatus(status)
	t.RoomID = roomID.String
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]protocol.Task, error) {
	var tasks []protocol.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan user")
	}
	return &u, nil
}
