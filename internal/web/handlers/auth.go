package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

// AuthHandler handles tenant login against the tenants table
type AuthHandler struct {
	tenants        database.TenantStore
	sessionManager *middleware.SessionManager
	logger         *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(tenants database.TenantStore, sm *middleware.SessionManager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		tenants:        tenants,
		sessionManager: sm,
		logger:         orDiscard(logger),
	}
}

type loginRequest struct {
	ClassCode string `json:"class_code"`
	Password  string `json:"password"`
}

// LoginResponse represents a login response. AccessToken can be sent back as
// a Bearer token by clients that do not keep cookies.
type LoginResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token,omitempty"`
	ClassCode   string `json:"class_code,omitempty"`
	ClassName   string `json:"class_name,omitempty"`
	Department  string `json:"department,omitempty"`
	Role        string `json:"role,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Login handles class login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.ClassCode == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "class code and password required")
		return
	}

	tenant, err := h.tenants.FindTenant(r.Context(), req.ClassCode)
	if err != nil {
		h.logger.Error("tenant lookup failed", "class", sanitizeForLog(req.ClassCode), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to look up class")
		return
	}
	if tenant == nil || bcrypt.CompareHashAndPassword([]byte(tenant.PasswordHash), []byte(req.Password)) != nil {
		h.logger.Info("login rejected", "class", sanitizeForLog(req.ClassCode))
		respondJSON(w, http.StatusUnauthorized, LoginResponse{
			Success: false,
			Error:   "invalid class code or password",
		})
		return
	}

	session, err := h.sessionManager.CreateSession(r.Context(), tenant)
	if err != nil {
		h.logger.Error("failed to create session", "class", tenant.Code, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.sessionManager.SetSessionCookie(w, r, session)
	h.logger.Info("login", "class", tenant.Code, "role", tenant.Role)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:     true,
		AccessToken: session.ID,
		ClassCode:   session.ClassCode,
		ClassName:   session.ClassName,
		Department:  session.Department,
		Role:        string(session.Role),
		ExpiresAt:   session.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		h.sessionManager.DeleteSession(r.Context(), session.ID)
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	ClassCode     string `json:"class_code,omitempty"`
	ClassName     string `json:"class_name,omitempty"`
	Department    string `json:"department,omitempty"`
	Role          string `json:"role,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// Status checks if the user is authenticated by validating the session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		ClassCode:     session.ClassCode,
		ClassName:     session.ClassName,
		Department:    session.Department,
		Role:          string(session.Role),
		ExpiresAt:     session.ExpiresAt.Format(time.RFC3339),
	})
}

type classResponse struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

// Classes lists the class tenants a user can log in as.
func (h *AuthHandler) Classes(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.ListTenants(r.Context(), database.RoleClass)
	if err != nil {
		h.logger.Error("failed to list classes", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list classes")
		return
	}

	classes := make([]classResponse, 0, len(tenants))
	for _, t := range tenants {
		classes = append(classes, classResponse{Code: t.Code, Name: t.Name, Department: t.Department})
	}
	respondJSON(w, http.StatusOK, map[string]any{"classes": classes})
}
