package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/web/handlers"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) {
	authHandler := handlers.NewAuthHandler(s.deps.Tenants, sessionManager, s.logger)
	usersHandler := handlers.NewUsersHandler(s.deps.Service, s.logger)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Service, s.logger)
	livenessHandler := handlers.NewLivenessHandler(s.deps.Blink, s.deps.Still, s.logger)
	livenessHandler.SetOriginCheck(middleware.NewOrigins(s.config.Web.AllowedOrigins).Allowed)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// The stream outlives any request timeout.
		r.With(middleware.RequireAuth(sessionManager)).Get("/liveness/stream", livenessHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/status", authHandler.Status)
			r.Get("/auth/classes", authHandler.Classes)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(sessionManager))

				// Enrolment and marking need a class roster.
				r.With(middleware.RequireRole(database.RoleClass)).Post("/register", usersHandler.Register)
				r.With(middleware.RequireRole(database.RoleClass)).Post("/attendance/mark", attendanceHandler.Mark)

				r.Get("/users", usersHandler.List)
				r.Delete("/users/{userId}", usersHandler.Delete)

				r.Get("/attendance", attendanceHandler.List)
				r.Get("/attendance/stats", attendanceHandler.Stats)
				r.Get("/attendance/export", attendanceHandler.Export)
				r.Get("/attendance/user/{userId}", attendanceHandler.UserHistory)

				r.Post("/liveness/blink", livenessHandler.Blink)
				r.Post("/liveness/still", livenessHandler.Still)
			})
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	})
}
