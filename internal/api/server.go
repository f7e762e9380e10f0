package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.io/infrasutra/mailbridge/internal/auth"
	"github.io/infrasutra/mailbridge/internal/config"
	"github.io/infrasutra/mailbridge/internal/outbound"
	"github.io/infrasutra/mailbridge/internal/sse"
	"github.io/infrasutra/mailbridge/internal/store"
)

const (
	detailNotFound        = "Not found."
	detailUnauthenticated = "Authentication credentials were not provided."
	detailMethod          = "Method not allowed."
)

var errUnauthenticated = errors.New("unauthenticated")

// QueueStatus reports the event publisher's connection state.
type QueueStatus interface {
	IsConnected() bool
}

type Server struct {
	cfg     config.Config
	store   *store.Store
	auth    *auth.Manager
	hub     *sse.Hub
	proxy   *outbound.Proxy
	webhook http.Handler
	queue   QueueStatus
	logger  *slog.Logger
	mux     *http.ServeMux
	metrics http.Handler
}

func NewServer(cfg config.Config, st *store.Store, authManager *auth.Manager, hub *sse.Hub, proxy *outbound.Proxy, webhook http.Handler, logger *slog.Logger) *Server {
	server := &Server{
		cfg:     cfg,
		store:   st,
		auth:    authManager,
		hub:     hub,
		proxy:   proxy,
		webhook: webhook,
		logger:  logger,
		metrics: promhttp.Handler(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", server.handleLogin)
	mux.HandleFunc("/api/logout", server.handleLogout)
	mux.HandleFunc("/api/me", server.handleMe)
	mux.HandleFunc("/api/inbound-emails/", server.handleInboundEmails)
	mux.HandleFunc("/api/outbound-messages/", server.handleOutboundMessages)
	mux.HandleFunc("/api/stream", server.handleStream)
	server.mux = mux
	return server
}

// SetQueue enables the event queue readiness check.
func (s *Server) SetQueue(queue QueueStatus) {
	s.queue = queue
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/"):
		s.mux.ServeHTTP(w, r)
	case path == "/webhooks/postmark/inbound" || path == "/webhooks/postmark/inbound/":
		s.webhook.ServeHTTP(w, r)
	case path == "/health":
		s.handleHealth(w, r)
	case path == "/ready":
		s.handleReady(w, r)
	case path == "/metrics":
		s.metrics.ServeHTTP(w, r)
	default:
		s.respondDetail(w, http.StatusNotFound, detailNotFound)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondDetail(w, http.StatusBadRequest, "JSON parse error.")
		return
	}
	user, err := s.store.UserByUsername(r.Context(), strings.TrimSpace(payload.Username))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.respondError(w, "load user", err)
		return
	}
	if err != nil || auth.CheckPassword(payload.Password, user.PasswordHash) != nil {
		s.respondDetail(w, http.StatusUnauthorized, "Invalid username or password.")
		return
	}
	now := time.Now()
	if err := s.store.TouchLogin(r.Context(), user.ID, now); err != nil {
		s.respondError(w, "record login", err)
		return
	}
	token, err := s.auth.Issue(user.ID, now)
	if err != nil {
		s.respondError(w, "issue session", err)
		return
	}
	s.setSessionCookie(w, token, now)
	s.respondJSON(w, http.StatusOK, map[string]string{"token": token, "email": user.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		s.respondDetail(w, http.StatusMethodNotAllowed, detailMethod)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(user.ID)
	defer unsubscribe()
	s.logger.Debug("event stream opened", "user_id", user.ID, "streams", s.hub.Subscribers(user.ID))

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// currentUser resolves the caller from a bearer token or the session
// cookie. The user row is reloaded so the registered email is current.
func (s *Server) currentUser(r *http.Request) (store.User, error) {
	userID, err := s.auth.Parse(s.auth.RequestToken(r), time.Now())
	if err != nil {
		return store.User{}, errUnauthenticated
	}
	user, err := s.store.UserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, errUnauthenticated
		}
		return store.User{}, err
	}
	return user, nil
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	user, err := s.currentUser(r)
	if err != nil {
		if errors.Is(err, errUnauthenticated) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			s.respondDetail(w, http.StatusUnauthorized, detailUnauthenticated)
			return store.User{}, false
		}
		s.respondError(w, "load caller", err)
		return store.User{}, false
	}
	return user, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	maxAge := int(s.auth.MaxAge().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondDetail(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) respondError(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error(action, "error", err)
	s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to " + action})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness: store unavailable", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if s.cfg.MQURL != "" && (s.queue == nil || !s.queue.IsConnected()) {
		s.respondText(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
