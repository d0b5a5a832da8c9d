package handlers

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

// UsersHandler handles enrollment and user management for a class
type UsersHandler struct {
	service *attendance.Service
	logger  *slog.Logger
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(service *attendance.Service, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{service: service, logger: orDiscard(logger)}
}

type registerRequest struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	UserID     string   `json:"userId"`
	Department string   `json:"department"`
	Images     []string `json:"images"`
}

func (req *registerRequest) missingField() string {
	switch {
	case req.Name == "":
		return "name"
	case req.Email == "":
		return "email"
	case req.UserID == "":
		return "userId"
	case req.Images == nil:
		return "images"
	}
	return ""
}

// RegisterResponse is returned after a successful enrollment
type RegisterResponse struct {
	Message         string `json:"message"`
	UserID          string `json:"user_id"`
	Name            string `json:"name"`
	ClassCode       string `json:"class_code"`
	ClassName       string `json:"class_name"`
	EncodingsCount  int    `json:"encodings_count"`
	ImagesProcessed int    `json:"images_processed"`
}

// Register enrolls a user into the session's class
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if isBodyTooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if field := req.missingField(); field != "" {
		respondError(w, http.StatusBadRequest, "missing required field: "+field)
		return
	}

	department := req.Department
	if department == "" {
		department = session.Department
	}

	// Keep one slot per payload so saved file names follow the submitted order.
	images := make([]image.Image, len(req.Images))
	for i, payload := range req.Images {
		img, err := imaging.DecodeBase64(payload)
		if err != nil {
			h.logger.Debug("registration image undecodable", "user_id", sanitizeForLog(req.UserID), "index", i, "error", err)
			continue
		}
		images[i] = img
	}

	start := time.Now()
	result, err := h.service.Register(r.Context(), attendance.Registration{
		ClassCode:  session.ClassCode,
		UserID:     req.UserID,
		Name:       req.Name,
		Email:      req.Email,
		Department: department,
		Images:     images,
	})
	switch {
	case err == nil:
	case attendance.IsRegistrationError(err):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, attendance.ErrAlreadyRegistered):
		respondError(w, http.StatusConflict, fmt.Sprintf("user %s already exists in class %s", req.UserID, session.ClassCode))
		return
	default:
		h.logger.Error("registration failed", "user_id", sanitizeForLog(req.UserID), "class", session.ClassCode, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	h.logger.Info("registration complete", "user_id", sanitizeForLog(req.UserID), "class", session.ClassCode,
		"encodings", result.EncodingsCount, "duration", time.Since(start))

	respondJSON(w, http.StatusCreated, RegisterResponse{
		Message:         "User registered successfully in " + session.ClassName,
		UserID:          req.UserID,
		Name:            req.Name,
		ClassCode:       session.ClassCode,
		ClassName:       session.ClassName,
		EncodingsCount:  result.EncodingsCount,
		ImagesProcessed: result.ImagesProcessed,
	})
}

// UserResponse is an enrolled user without encodings
type UserResponse struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Department     string `json:"department"`
	ClassCode      string `json:"class_code"`
	ClassName      string `json:"class_name"`
	EncodingsCount int    `json:"encodings_count"`
	CreatedAt      string `json:"created_at"`
}

// List returns the users of the session's class, optionally filtered by ?q=
// against name or user id. Admins are not special cased.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.service.Users(r.Context(), session.ClassCode, r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("failed to list users", "class", session.ClassCode, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	result := make([]UserResponse, 0, len(users))
	for _, u := range users {
		result = append(result, UserResponse{
			UserID:         u.UserID,
			Name:           u.Name,
			Email:          u.Email,
			Department:     u.Department,
			ClassCode:      u.ClassCode,
			ClassName:      u.ClassName,
			EncodingsCount: u.EncodingsCount,
			CreatedAt:      u.CreatedAt.Format(time.RFC3339),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"users":      result,
		"count":      len(result),
		"class_code": session.ClassCode,
	})
}

// Delete soft-deletes a user of the session's class
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	userID := chi.URLParam(r, "userId")

	deleted, err := h.service.DeleteUser(r.Context(), session.ClassCode, userID)
	if err != nil {
		h.logger.Error("failed to delete user", "user_id", sanitizeForLog(userID), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	if !deleted {
		respondJSON(w, http.StatusNotFound, map[string]any{
			"error":   "User not found in this class",
			"deleted": false,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %s deleted successfully", userID),
		"deleted": true,
	})
}
