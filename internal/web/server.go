package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/web/handlers"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

// requestTimeout bounds every route except the liveness stream.
const requestTimeout = 5 * time.Minute

// Dependencies are the collaborators the HTTP layer is wired to.
type Dependencies struct {
	Service  *attendance.Service
	Blink    attendance.BlinkAssessor
	Still    handlers.StillChecker
	Tenants  database.TenantStore
	Sessions database.SessionStore // optional; sessions are memory-only without it
}

// Server represents the web server
type Server struct {
	config         *config.Config
	deps           Dependencies
	router         *chi.Mux
	httpServer     *http.Server
	sessionManager *middleware.SessionManager
	logger         *slog.Logger
}

// NewServer creates a new web server listening on cfg.Web.Host:cfg.Web.Port
func NewServer(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := chi.NewRouter()

	sessionManager := middleware.NewSessionManager(cfg.Web.SessionSecret, deps.Sessions, logger)

	s := &Server{
		config:         cfg,
		deps:           deps,
		router:         r,
		sessionManager: sessionManager,
		logger:         logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(middleware.NewOrigins(cfg.Web.AllowedOrigins)))

	s.setupRoutes(sessionManager)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  2 * time.Minute, // registration bodies carry many base64 frames
		WriteTimeout: requestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	s.sessionManager.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
