package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenVerifier validates a session token and returns the user identifier.
type TokenVerifier func(token string) (string, error)

// NewAuthMiddleware authenticates the upgrade request before any connection
// state exists. The token is taken from the Authorization header, the
// session-token cookie, or (for browser WebSocket clients, which cannot set
// headers) the "token" query parameter.
func NewAuthMiddleware(logger *slog.Logger, verify TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				// previous middlewares did not run; wiring bug
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("No session token attached to request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			userID, err := verify(tokenString)
			if err != nil {
				logger.Warn("Invalid session token presented",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie("session-token"); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
