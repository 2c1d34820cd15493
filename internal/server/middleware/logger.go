package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger records every request reaching the server surface, tagged
// with the caller's address so upgrade attempts can be correlated with the
// connection lifecycle logs that follow.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
			}

			logger.Info("Handling request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remoteIP", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
