package middleware_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/taskwire/taskwire/internal/server/middleware"
	"github.com/taskwire/taskwire/pkg/config"
	"github.com/taskwire/taskwire/pkg/state/statemanager"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeSender stands in for a transport connection.
type fakeSender struct{ id uuid.UUID }

func newFakeSender() *fakeSender  { return &fakeSender{id: uuid.New()} }
func (f *fakeSender) ID() uuid.UUID { return f.id }
func (f *fakeSender) Send(_ []byte) {}
func (f *fakeSender) Close(_ error) {}

// asUser fills the request metadata the way the auth middleware would.
func asUser(userID string) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta, _ := middleware.ReqMetadataFrom(r.Context())
			meta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}

func limitedHandler(m *statemanager.InMemoryManager, cfg config.ConnectionLimitConfig, cycler middleware.UserConnectionCycler) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return middleware.Chain(final,
		middleware.RequestMetadataMiddleware(),
		asUser("alice"),
		middleware.NewConnectionLimiter(newTestLogger(), m.UserConnectionCount, cycler, cfg),
	)
}

func probeStatus(t *testing.T, h http.Handler) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestLimiterCountsConnectionsBeforeIdentify(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	cfg := config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "reject"}
	h := limitedHandler(m, cfg, nil)

	// Connections that authenticated at upgrade but never sent an identify
	// frame still count against the cap.
	for i := 0; i < cfg.MaxPerUser; i++ {
		if _, err := m.RegisterConnection(newFakeSender(), "127.0.0.1", "alice"); err != nil {
			t.Fatalf("RegisterConnection failed: %v", err)
		}
	}

	if got := probeStatus(t, h); got != http.StatusTooManyRequests {
		t.Errorf("expected %d at the cap, got %d", http.StatusTooManyRequests, got)
	}
}

func TestLimiterAllowsUnderCap(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	cfg := config.ConnectionLimitConfig{MaxPerUser: 2, Mode: "reject"}
	h := limitedHandler(m, cfg, nil)

	if _, err := m.RegisterConnection(newFakeSender(), "127.0.0.1", "alice"); err != nil {
		t.Fatal(err)
	}
	if got := probeStatus(t, h); got != http.StatusOK {
		t.Errorf("expected %d under the cap, got %d", http.StatusOK, got)
	}
}

func TestLimiterCycleModeAdmitsAndCyclesOldest(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	cfg := config.ConnectionLimitConfig{MaxPerUser: 1, Mode: "cycle"}

	var cycled []string
	h := limitedHandler(m, cfg, func(userID string) {
		cycled = append(cycled, userID)
	})

	if _, err := m.RegisterConnection(newFakeSender(), "127.0.0.1", "alice"); err != nil {
		t.Fatal(err)
	}

	if got := probeStatus(t, h); got != http.StatusOK {
		t.Errorf("cycle mode should admit the request, got %d", got)
	}
	if len(cycled) != 1 || cycled[0] != "alice" {
		t.Errorf("expected one cycle for alice, got %v", cycled)
	}

	// The oldest connection is resolvable for the cycler even pre-identify.
	if _, found := m.FindOldestUserConnection("alice"); !found {
		t.Error("oldest connection not found for cycling")
	}
}

func TestLimiterDisabledWhenCapUnset(t *testing.T) {
	m := statemanager.NewInMemoryManager(newTestLogger())
	h := limitedHandler(m, config.ConnectionLimitConfig{MaxPerUser: 0, Mode: "reject"}, nil)

	if got := probeStatus(t, h); got != http.StatusOK {
		t.Errorf("limiter with no cap must pass requests, got %d", got)
	}
}
