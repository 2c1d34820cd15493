package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taskwire/taskwire/internal/auth"
	"github.com/taskwire/taskwire/internal/store"
	"github.com/taskwire/taskwire/pkg/protocol"
)

type credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type sessionResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func sessionFor(user *store.User, token string) sessionResponse {
	return sessionResponse{
		User:  userResponse{UserID: user.ID, Username: user.Username, Email: user.Email},
		Token: token,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := readJSON(r, &creds); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" || creds.Username == "" {
		a.writeError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	user, token, err := a.auth.Register(r.Context(), creds.Username, creds.Email, creds.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		a.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		a.logger.Error("Registration failed", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	a.writeJSON(w, http.StatusCreated, sessionFor(user, token))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := readJSON(r, &creds); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := a.auth.Login(r.Context(), creds.Email, creds.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		a.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		a.logger.Error("Login failed", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	a.writeJSON(w, http.StatusOK, sessionFor(user, token))
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		a.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		RoomName string `json:"room_name"`
	}
	if err := readJSON(r, &body); err != nil || strings.TrimSpace(body.RoomName) == "" {
		a.writeError(w, http.StatusBadRequest, "room_name is required")
		return
	}

	room, err := a.store.CreateRoom(r.Context(), strings.TrimSpace(body.RoomName), userID)
	if err != nil {
		a.logger.Error("Failed to create room", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	a.writeJSON(w, http.StatusCreated, room)
}

func (a *API) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		a.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		RoomID string `json:"roomId"`
	}
	if err := readJSON(r, &body); err != nil || body.RoomID == "" {
		a.writeError(w, http.StatusBadRequest, "roomId is required")
		return
	}

	already, err := a.store.IsUserInRoom(r.Context(), userID, body.RoomID)
	if err != nil {
		a.logger.Error("Membership lookup failed", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	if already {
		a.writeJSON(w, http.StatusOK, map[string]string{"message": "already a member"})
		return
	}

	if err := a.store.AddUserToRoom(r.Context(), userID, body.RoomID); err != nil {
		a.logger.Error("Failed to join room", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"message": "joined room"})
}

func (a *API) handleListRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		a.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rooms, err := a.store.RoomsForUser(r.Context(), userID)
	if err != nil {
		a.logger.Error("Failed to list rooms", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	if rooms == nil {
		rooms = []store.Room{}
	}
	a.writeJSON(w, http.StatusOK, rooms)
}

// handleListTasks returns a room's tasks when room_id is given (membership
// required), or the caller's private tasks otherwise.
func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		a.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var tasks []protocol.Task
	var err error
	if roomID := r.URL.Query().Get("room_id"); roomID != "" {
		member, merr := a.store.IsUserInRoom(r.Context(), userID, roomID)
		if merr != nil {
			a.logger.Error("Membership lookup failed", slog.Any("error", merr))
			a.writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		if !member {
			a.writeError(w, http.StatusForbidden, "not a member of this room")
			return
		}
		tasks, err = a.store.GetTasksByRoom(r.Context(), roomID)
	} else {
		tasks, err = a.store.GetPrivateTasks(r.Context(), userID)
	}
	if err != nil {
		a.logger.Error("Failed to list tasks", slog.Any("error", err))
		a.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []protocol.Task{}
	}
	a.writeJSON(w, http.StatusOK, tasks)
}
