// Package http exposes the REST surface of the chat service. The realtime
// gateway shares the same listener under /ws.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"securechat/internal/auth"
	"securechat/internal/domain"
	"securechat/internal/gateway"
	"securechat/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type sessionKey struct{}

// Handler carries the dependencies shared by every route.
type Handler struct {
	svc      *service.Service
	verifier auth.Verifier
}

type RouterConfig struct {
	CORSOrigins []string
	RateLimit   int // requests per minute per IP, 0 disables
}

func NewRouter(svc *service.Service, verifier auth.Verifier, hub *gateway.Hub, cfg RouterConfig) http.Handler {
	h := &Handler{svc: svc, verifier: verifier}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The websocket endpoint authenticates inside its own handshake and must
	// stay outside the request timeout, which would tear down long-lived
	// connections.
	r.Get("/ws", hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(h.requireSession)

		r.Post("/keys", h.storeKeys)
		r.Get("/keys/my", h.ownKeys)
		r.Get("/keys/{userId}", h.publicKey)

		r.Post("/thread", h.getOrCreateThread)
		r.Get("/threads", h.listThreads)

		r.Get("/messages", h.history)
		r.Get("/messages/unread", h.unreadCount)
		r.Post("/send-encrypted", h.sendEncrypted)
		r.Delete("/messages/{id}", h.deleteMessage)

		r.Post("/files/upload", h.uploadFile)
		r.Get("/files/{id}", h.getFile)

		r.Post("/typing", h.typing)
		r.Post("/read-receipt", h.readReceipt)
	})

	return r
}

// requireSession verifies the bearer token and stashes the session in the
// request context. Missing or invalid tokens get 401, never a silent pass.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		session, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, "session verification unavailable", http.StatusServiceUnavailable)
			return
		}
		if session == nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionKey{}).(*auth.Session)
	return s
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
