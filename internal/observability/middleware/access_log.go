package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// WithAccessLog logs method, path, and latency for every request. Runs inside
// WithRequestAndTrace so the request id is already in the context.
func WithAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
