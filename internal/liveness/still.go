package liveness

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/recognition"
)

const (
	ReasonInvalidImage = "invalid image"
	ReasonNoFace       = "no face detected"
	ReasonRealPerson   = "real person with visible eyes"
)

// StillChecker is the single-frame liveness check: a face with two visible
// eyes and a frame sharpness that looks like a camera capture.
//
// Unlike Engine it FAILS OPEN. When a detector errors or panics the frame is
// reported live with confidence 50 and a "check bypassed" reason, so an
// attacker able to make detection fail skips this check entirely. Callers that
// need a hard gate must use Engine. Every bypass is logged at WARN level.
type StillChecker struct {
	faces   recognition.FaceDetector
	eyes    EyeDetector
	blurMin float64
	blurMax float64
	logger  *slog.Logger
}

// NewStillChecker creates a single-frame checker. Zero blur bounds fall back
// to the standard 100-1000 band.
func NewStillChecker(faces recognition.FaceDetector, eyes EyeDetector, blurMin, blurMax float64, logger *slog.Logger) *StillChecker {
	if blurMin <= 0 {
		blurMin = constants.BlurMin
	}
	if blurMax <= 0 {
		blurMax = constants.BlurMax
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StillChecker{faces: faces, eyes: eyes, blurMin: blurMin, blurMax: blurMax, logger: logger}
}

// CheckStill inspects one frame.
func (s *StillChecker) CheckStill(img image.Image) (v Verdict) {
	if imaging.IsEmpty(img) {
		return reject(OutcomeInvalidImage, ReasonInvalidImage)
	}

	defer func() {
		if r := recover(); r != nil {
			v = s.bypass(fmt.Errorf("%v", r))
		}
	}()

	gray := imaging.Grayscale(img)

	faces, err := s.faces.DetectFaces(gray)
	if err != nil {
		return s.bypass(err)
	}
	if len(faces) == 0 {
		return reject(OutcomeNoFace, ReasonNoFace)
	}

	boxes := make([]image.Rectangle, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	face := largestByArea(boxes, 1)[0]

	roi := imaging.Crop(gray, face)
	if roi == nil {
		return s.bypass(errors.New("face box outside frame"))
	}
	eyes, err := s.eyes.DetectEyes(roi)
	if err != nil {
		return s.bypass(err)
	}

	blur := imaging.LaplacianVariance(gray)
	hasEyes := len(eyes) >= 2
	natural := blur > s.blurMin && blur < s.blurMax

	s.logger.Debug("still liveness", "eyes", len(eyes), "blur", blur, "natural", natural)

	if hasEyes && natural {
		return Verdict{IsLive: true, Confidence: 100, Reason: ReasonRealPerson, Outcome: OutcomeLive}
	}
	outcome := OutcomeNotNatural
	if !hasEyes {
		outcome = OutcomeEyesNotDetected
	}
	return reject(outcome, fmt.Sprintf("eyes: %d, blur: %.0f", len(eyes), blur))
}

func (s *StillChecker) bypass(err error) Verdict {
	s.logger.Warn("still liveness check bypassed", "error", err)
	return Verdict{
		IsLive:     true,
		Confidence: constants.BypassConfidence,
		Reason:     "check bypassed due to error: " + err.Error(),
		Outcome:    OutcomeBypassed,
	}
}
