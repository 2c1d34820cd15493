package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/taskwire/taskwire/internal/api"
	"github.com/taskwire/taskwire/internal/auth"
	"github.com/taskwire/taskwire/internal/store"
)

func newTestServer() (*httptest.Server, *store.MemoryStore) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	st := store.NewMemoryStore()
	authService := auth.NewService("test-secret", time.Hour, st, logger)

	root := mux.NewRouter()
	api.New(logger, authService, st).Register(root)
	return httptest.NewServer(root), st
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func registerUser(t *testing.T, baseURL, username, email string) (userID, token string) {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/auth/register", "", map[string]string{
		"username": username, "email": email, "password": "hunter2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d", resp.StatusCode)
	}
	var session struct {
		User struct {
			UserID string `json:"user_id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	decodeBody(t, resp, &session)
	return session.User.UserID, session.Token
}

func TestRegisterLoginAndRoomFlow(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	_, token := registerUser(t, srv.URL, "alice", "alice@example.com")

	// login with the same credentials
	resp := postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	// create a room
	resp = postJSON(t, srv.URL+"/api/rooms", token, map[string]string{"room_name": "Trip"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room returned %d", resp.StatusCode)
	}
	var room store.Room
	decodeBody(t, resp, &room)
	if room.ID == "" || room.Name != "Trip" {
		t.Fatalf("unexpected room: %+v", room)
	}

	// another user joins it
	_, bobToken := registerUser(t, srv.URL, "bob", "bob@example.com")
	resp = postJSON(t, srv.URL+"/api/rooms/join", bobToken, map[string]string{"roomId": room.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("join room returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	// bob now sees the room
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+bobToken)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var rooms []store.Room
	decodeBody(t, listResp, &rooms)
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("unexpected rooms for bob: %+v", rooms)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/rooms", "", map[string]string{"room_name": "Trip"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/rooms", "garbage-token", map[string]string{"room_name": "Trip"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoomTaskListingRequiresMembership(t *testing.T) {
	srv, st := newTestServer()
	defer srv.Close()

	aliceID, aliceToken := registerUser(t, srv.URL, "alice", "alice@example.com")
	_, carolToken := registerUser(t, srv.URL, "carol", "carol@example.com")

	resp := postJSON(t, srv.URL+"/api/rooms", aliceToken, map[string]string{"room_name": "Trip"})
	var room store.Room
	decodeBody(t, resp, &room)

	st.CreateTask(context.Background(), store.NewTask{Title: "Pack bags", RoomID: room.ID, OwnerID: aliceID})

	get := func(token string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/todos?room_id="+room.ID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	memberResp := get(aliceToken)
	if memberResp.StatusCode != http.StatusOK {
		t.Fatalf("member listing returned %d", memberResp.StatusCode)
	}
	var tasks []json.RawMessage
	decodeBody(t, memberResp, &tasks)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	outsiderResp := get(carolToken)
	if outsiderResp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider listing returned %d, want 403", outsiderResp.StatusCode)
	}
	outsiderResp.Body.Close()
}
