package handlers

import (
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/liveness"
)

// StillChecker judges a single frame.
type StillChecker interface {
	CheckStill(img image.Image) liveness.Verdict
}

// LivenessHandler exposes the liveness checks on their own, without
// recognition or attendance side effects
type LivenessHandler struct {
	blink       attendance.BlinkAssessor
	still       StillChecker
	checkOrigin func(origin string) bool
	logger      *slog.Logger
}

// NewLivenessHandler creates a new liveness handler
func NewLivenessHandler(blink attendance.BlinkAssessor, still StillChecker, logger *slog.Logger) *LivenessHandler {
	return &LivenessHandler{blink: blink, still: still, logger: orDiscard(logger)}
}

// VerdictResponse is a liveness verdict as returned to clients
type VerdictResponse struct {
	Status     string  `json:"status"`
	IsLive     bool    `json:"is_live"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Message    string  `json:"message,omitempty"`
}

func blinkVerdictResponse(v liveness.Verdict) VerdictResponse {
	resp := VerdictResponse{
		Status:     "no_blink",
		IsLive:     v.IsLive,
		Confidence: round2(v.Confidence),
		Reason:     v.Reason,
		Message:    "No blink detected",
	}
	if v.IsLive {
		resp.Status = "live"
		resp.Message = "Blink detected!"
	}
	return resp
}

// Blink runs blink detection on a burst of frames
func (h *LivenessHandler) Blink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Images []string `json:"images"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		if isBodyTooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	minFrames := h.blink.MinFrames()
	if len(req.Images) < minFrames {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Need at least %d images", minFrames))
		return
	}
	frames, _ := imaging.DecodeAll(req.Images)
	if len(frames) < minFrames {
		respondError(w, http.StatusBadRequest, "Failed to decode enough frames")
		return
	}

	verdict := h.blink.AssessLiveness(frames)
	h.logger.Debug("blink test", "frames", len(frames), "outcome", verdict.Outcome.String())
	respondJSON(w, http.StatusOK, blinkVerdictResponse(verdict))
}

// Still runs the single-image liveness check. It fails open: a detector
// failure is reported as live with a bypass reason.
func (h *LivenessHandler) Still(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		if isBodyTooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "No image provided")
		return
	}
	img, err := imaging.DecodeBase64(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid image format")
		return
	}

	verdict := h.still.CheckStill(img)
	status := "not_live"
	if verdict.IsLive {
		status = "live"
	}
	respondJSON(w, http.StatusOK, VerdictResponse{
		Status:     status,
		IsLive:     verdict.IsLive,
		Confidence: round2(verdict.Confidence),
		Reason:     verdict.Reason,
	})
}
