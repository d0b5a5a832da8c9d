package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/report"
	"github.com/kozaktomas/smart-attendance/internal/web/middleware"
)

const modeBlinkDetection = "blink_detection"

// livenessTips are returned with every rejected blink sequence.
var livenessTips = []string{
	"Look directly at the camera",
	"Blink naturally and clearly",
	"Ensure good lighting on your face",
	"Do not use photos or videos",
}

// AttendanceHandler handles marking and reporting attendance
type AttendanceHandler struct {
	service *attendance.Service
	logger  *slog.Logger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(service *attendance.Service, logger *slog.Logger) *AttendanceHandler {
	return &AttendanceHandler{service: service, logger: orDiscard(logger)}
}

type markRequest struct {
	Mode   string   `json:"mode"`
	Images []string `json:"images"`
	Image  string   `json:"image"`
}

// MarkResponse is the body of a successful or repeated mark
type MarkResponse struct {
	Status             string   `json:"status"`
	Message            string   `json:"message"`
	Name               string   `json:"name"`
	UserID             string   `json:"user_id"`
	Email              string   `json:"email"`
	Department         string   `json:"department"`
	ClassCode          string   `json:"class_code"`
	Time               string   `json:"time"`
	Date               string   `json:"date,omitempty"`
	Confidence         float64  `json:"confidence,omitempty"`
	IsLate             *bool    `json:"is_late,omitempty"`
	LivenessConfidence *float64 `json:"liveness_confidence,omitempty"`
}

func statusError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"status": "error", "message": message})
}

// Mark recognizes a face and records attendance for the session's class.
// Mode "blink_detection" gates recognition on a blink sequence; any other mode
// recognizes a single image without a liveness check.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req markRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if isBodyTooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var (
		mark *attendance.Mark
		err  error
	)
	if req.Mode == modeBlinkDetection {
		minFrames := h.service.MinFrames()
		if len(req.Images) < minFrames {
			statusError(w, http.StatusBadRequest, fmt.Sprintf("Need at least %d frames for blink detection", minFrames))
			return
		}
		frames, dropped := imaging.DecodeAll(req.Images)
		if dropped > 0 {
			h.logger.Debug("frames dropped", "class", session.ClassCode, "dropped", dropped)
		}
		if len(frames) < minFrames {
			statusError(w, http.StatusBadRequest, "Failed to decode enough frames")
			return
		}
		mark, err = h.service.MarkBlink(r.Context(), session.ClassCode, frames)
	} else {
		if req.Image == "" {
			respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "No image provided"})
			return
		}
		img, decodeErr := imaging.DecodeBase64(req.Image)
		if decodeErr != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "Invalid image format"})
			return
		}
		mark, err = h.service.MarkSingle(r.Context(), session.ClassCode, img)
	}
	if err != nil {
		h.respondMarkError(w, session.ClassCode, err)
		return
	}

	ident := mark.Identity
	department := ident.Department
	if department == "" {
		department = "N/A"
	}
	resp := MarkResponse{
		Name:       ident.Name,
		UserID:     ident.UserID,
		Email:      ident.Email,
		Department: department,
		ClassCode:  session.ClassCode,
		Time:       mark.Record.Time,
	}
	if mark.AlreadyMarked {
		resp.Status = "already_marked"
		resp.Message = "Attendance already marked today at " + mark.Record.Time
		respondJSON(w, http.StatusOK, resp)
		return
	}

	late := mark.Late
	resp.Status = "success"
	resp.Message = fmt.Sprintf("Attendance marked for %s!", ident.Name)
	resp.Date = mark.Record.Date
	resp.Confidence = mark.Confidence
	resp.IsLate = &late
	if mark.Liveness != nil {
		c := round2(mark.Liveness.Confidence)
		resp.LivenessConfidence = &c
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *AttendanceHandler) respondMarkError(w http.ResponseWriter, classCode string, err error) {
	var livenessErr *attendance.LivenessError
	switch {
	case errors.Is(err, attendance.ErrInsufficientFrames):
		statusError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &livenessErr):
		respondJSON(w, http.StatusForbidden, map[string]any{
			"status":     "liveness_failed",
			"message":    livenessErr.Verdict.Reason,
			"confidence": round2(livenessErr.Verdict.Confidence),
			"tips":       livenessTips,
		})
	case errors.Is(err, attendance.ErrDegenerateInput):
		respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "Invalid image format"})
	case errors.Is(err, attendance.ErrNoFaceDetected):
		statusError(w, http.StatusBadRequest, "No face detected. Please ensure your face is clearly visible.")
	case errors.Is(err, attendance.ErrNoIdentities):
		statusError(w, http.StatusNotFound, "No registered users found in class "+classCode)
	case errors.Is(err, attendance.ErrNoMatch):
		respondJSON(w, http.StatusNotFound, map[string]string{
			"status":  "not_recognized",
			"message": fmt.Sprintf("Face not recognized in class %s. Please register first.", classCode),
		})
	default:
		h.logger.Error("mark attendance failed", "class", classCode, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "Internal server error"})
	}
}

// List returns attendance records for a day, or the most recent records
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	scope := scopeFor(session)
	date := r.URL.Query().Get("date")

	records, err := h.service.List(r.Context(), scope, date, r.URL.Query().Get("user_id"))
	if err != nil {
		h.respondQueryError(w, "list attendance", err)
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}

	label := date
	if label == "" {
		label = "all"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"attendance": records,
		"count":      len(records),
		"date":       label,
		"class_code": scopeLabel(scope),
	})
}

// Stats returns today's attendance figures
func (h *AttendanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.service.Stats(r.Context(), scopeFor(session))
	if err != nil {
		h.respondQueryError(w, "attendance stats", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"stats":      stats,
		"class_code": session.ClassCode,
		"date":       stats.Date,
	})
}

// Export streams attendance records as a CSV download
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	scope := scopeFor(session)
	query := r.URL.Query()

	records, err := h.service.Export(r.Context(), scope, query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		h.respondQueryError(w, "export attendance", err)
		return
	}

	fileClass := scope.ClassCode
	if scope.All {
		fileClass = ""
	}
	filename := report.Filename(fileClass, time.Now())

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	if err := report.WriteCSV(w, records, h.service.IsLateRecord); err != nil {
		// Headers are already sent.
		h.logger.Error("failed to write export", "class", session.ClassCode, "error", err)
		return
	}
	h.logger.Info("attendance exported", "class", scopeLabel(scope), "records", len(records))
}

// UserHistory returns a user's attendance history with statistics
func (h *AttendanceHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	userID := chi.URLParam(r, "userId")

	records, stats, err := h.service.History(r.Context(), scopeFor(session), userID)
	if err != nil {
		h.respondQueryError(w, "user history", err)
		return
	}
	if len(records) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "No attendance records found for this user",
			"records": []database.AttendanceRecord{},
			"count":   0,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"user_id":    userID,
		"records":    records,
		"count":      len(records),
		"statistics": stats,
	})
}

func (h *AttendanceHandler) respondQueryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidDate):
		statusError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, attendance.ErrNoRecords):
		statusError(w, http.StatusNotFound, "No records found for export")
	default:
		h.logger.Error(op+" failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "Internal server error"})
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
