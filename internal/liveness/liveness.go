// Package liveness decides whether captured frames show a live person rather
// than a photo or a screen.
package liveness

import (
	"image"
)

// EyeDetector finds eye boxes in an image.
type EyeDetector interface {
	DetectEyes(img image.Image) ([]image.Rectangle, error)
}

// Outcome classifies a verdict for callers that need to branch on it.
type Outcome int

const (
	OutcomeLive Outcome = iota
	OutcomeInsufficientFrames
	OutcomeEyesNotDetected
	OutcomeNoBlink
	OutcomeNoFace
	OutcomeNotNatural
	OutcomeInvalidImage
	OutcomeError
	OutcomeBypassed
)

var outcomeNames = map[Outcome]string{
	OutcomeLive:               "live",
	OutcomeInsufficientFrames: "insufficient_frames",
	OutcomeEyesNotDetected:    "eyes_not_detected",
	OutcomeNoBlink:            "no_blink",
	OutcomeNoFace:             "no_face",
	OutcomeNotNatural:         "not_natural",
	OutcomeInvalidImage:       "invalid_image",
	OutcomeError:              "error",
	OutcomeBypassed:           "bypassed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Verdict is the result of a liveness check.
type Verdict struct {
	IsLive     bool    `json:"is_live"`
	Confidence float64 `json:"confidence"` // 0-100
	Reason     string  `json:"reason"`
	Outcome    Outcome `json:"-"`
}

func reject(outcome Outcome, reason string) Verdict {
	return Verdict{IsLive: false, Confidence: 0, Reason: reason, Outcome: outcome}
}

// largestByArea returns up to n boxes ordered by decreasing area. Equal
// areas keep detector order.
func largestByArea(boxes []image.Rectangle, n int) []image.Rectangle {
	sorted := make([]image.Rectangle, len(boxes))
	copy(sorted, boxes)
	// insertion sort, detectors return a handful of boxes
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && area(sorted[j]) > area(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
