// Package api is the REST surface next to the WebSocket core: account
// registration, login, room management, and task listing. Everything here is
// conventional request/response work; live synchronization stays in router.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/taskwire/taskwire/internal/auth"
	"github.com/taskwire/taskwire/internal/server/middleware"
	"github.com/taskwire/taskwire/internal/store"
)

type API struct {
	logger *slog.Logger
	auth   *auth.Service
	store  store.Store
}

func New(logger *slog.Logger, authService *auth.Service, st store.Store) *API {
	return &API{
		logger: logger.With(slog.String("component", "api")),
		auth:   authService,
		store:  st,
	}
}

// Register mounts all REST routes on the given router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/auth/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", a.handleLogin).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(
		mux.MiddlewareFunc(middleware.RequestMetadataMiddleware()),
		mux.MiddlewareFunc(middleware.NewAuthMiddleware(a.logger, a.auth.VerifyToken)),
	)
	protected.HandleFunc("/rooms", a.handleCreateRoom).Methods(http.MethodPost)
	protected.HandleFunc("/rooms", a.handleListRooms).Methods(http.MethodGet)
	protected.HandleFunc("/rooms/join", a.handleJoinRoom).Methods(http.MethodPost)
	protected.HandleFunc("/todos", a.handleListTasks).Methods(http.MethodGet)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to write response", slog.Any("error", err))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"message": message})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// userFrom returns the authenticated user identifier placed in the request
// context by the auth middleware.
func userFrom(r *http.Request) (string, bool) {
	meta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || meta.UserID == "" {
		return "", false
	}
	return meta.UserID, true
}
