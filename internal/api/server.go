// Package api provides the local HTTP API and live WebSocket surface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/graaaaa/vrcwatch/internal/app"
	"github.com/graaaaa/vrcwatch/internal/hub"
)

// Pauser controls the notification pause switch.
type Pauser interface {
	SetPaused(paused bool) bool
	Toggle() bool
	Paused() bool
}

// Forcer accepts manual re-enrich requests.
type Forcer interface {
	Force(playerID, displayName string)
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	// Use case dependencies
	health app.HealthUsecase
	events app.EventsUsecase
	status app.StatusUsecase

	hub     *hub.Hub
	pauser  Pauser
	forcer  Forcer
	limiter *RateLimiter

	// Auth configuration
	authEnabled  bool
	authUsername string
	authPassword string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventsUsecase sets the events use case.
func WithEventsUsecase(events app.EventsUsecase) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithStatusUsecase sets the status use case.
func WithStatusUsecase(status app.StatusUsecase) ServerOption {
	return func(s *Server) { s.status = status }
}

// WithHub sets the live subscriber hub.
func WithHub(h *hub.Hub) ServerOption {
	return func(s *Server) { s.hub = h }
}

// WithPauser sets the notification pause control.
func WithPauser(p Pauser) ServerOption {
	return func(s *Server) { s.pauser = p }
}

// WithForcer sets the manual re-enrich control.
func WithForcer(f Forcer) ServerOption {
	return func(s *Server) { s.forcer = f }
}

// WithRateLimiter applies IP rate limiting to every route (LAN mode).
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithBasicAuth enables HTTP Basic Auth.
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		if username != "" && password != "" {
			s.authEnabled = true
			s.authUsername = username
			s.authPassword = password
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new API server with the given dependencies.
func NewServer(addr string, health app.HealthUsecase, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // Disable for the long-lived WebSocket route
			IdleTimeout:  60 * time.Second,
		},
		mux:    mux,
		logger: slog.Default(),
		health: health,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()

	var handler http.Handler = mux
	handler = securityHeadersMiddleware(handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	s.httpServer.Handler = handler
	return s
}

// wrapAuth wraps a handler with auth middleware if auth is enabled.
func (s *Server) wrapAuth(h http.Handler) http.Handler {
	if !s.authEnabled {
		return h
	}
	return basicAuthMiddleware(s.authUsername, s.authPassword)(h)
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health endpoint (no auth required)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	if s.status != nil {
		s.mux.Handle("GET /api/v1/status", s.wrapAuth(http.HandlerFunc(s.handleStatus)))
	}
	if s.events != nil {
		s.mux.Handle("GET /api/v1/events", s.wrapAuth(http.HandlerFunc(s.handleEvents)))
	}
	if s.pauser != nil {
		s.mux.Handle("POST /api/v1/notifications/pause", s.wrapAuth(http.HandlerFunc(s.handleNotifyPause)))
	}
	if s.forcer != nil {
		s.mux.Handle("POST /api/v1/identities/{id}/enrich", s.wrapAuth(http.HandlerFunc(s.handleForceEnrich)))
	}
	if s.hub != nil {
		s.mux.Handle("GET /api/v1/ws", s.wrapAuth(http.HandlerFunc(s.handleWS)))
	}
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.status.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
