// Package recognition turns a captured frame into a fixed-length face
// encoding: a detector strategy finds the face, the locator crops it to a
// canonical square and the encoder summarizes it as an intensity histogram.
package recognition

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
)

// Candidate is a face box reported by a detector, in image coordinates.
// Cascade detectors report a confidence of 1.
type Candidate struct {
	Box        image.Rectangle
	Confidence float64
}

// FaceDetector finds candidate face boxes in an image. Implementations may
// return boxes that extend past the image edges.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]Candidate, error)
}

// Strategy chooses which candidate, if any, is the face.
type Strategy interface {
	Name() string
	Select(candidates []Candidate) (Candidate, bool)
}

// SSDStrategy picks the highest-confidence candidate strictly above MinConfidence.
type SSDStrategy struct {
	MinConfidence float64
}

func (SSDStrategy) Name() string { return "ssd" }

func (s SSDStrategy) Select(candidates []Candidate) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, c := range candidates {
		if c.Confidence > s.MinConfidence && (!found || c.Confidence > best.Confidence) {
			best = c
			found = true
		}
	}
	return best, found
}

// CascadeStrategy accepts the first box the cascade returns.
type CascadeStrategy struct{}

func (CascadeStrategy) Name() string { return "cascade" }

func (CascadeStrategy) Select(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}

// Locator finds the face in a frame and returns it as a FaceSize x FaceSize crop.
type Locator struct {
	detector FaceDetector
	strategy Strategy
	size     int
	logger   *slog.Logger
}

// NewLocator creates a locator. A nil logger discards diagnostics.
func NewLocator(detector FaceDetector, strategy Strategy, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{
		detector: detector,
		strategy: strategy,
		size:     constants.FaceSize,
		logger:   logger,
	}
}

// Strategy returns the name of the selection strategy in use.
func (l *Locator) Strategy() string {
	return l.strategy.Name()
}

// Locate returns the canonical face region of img, or false when no usable
// face is found. Detector failures are logged and reported as no face.
func (l *Locator) Locate(img image.Image) (image.Image, bool) {
	if imaging.IsEmpty(img) {
		return nil, false
	}

	candidates, err := l.detect(img)
	if err != nil {
		l.logger.Warn("face detection failed", "strategy", l.strategy.Name(), "error", err)
		return nil, false
	}

	face, ok := l.strategy.Select(candidates)
	if !ok {
		return nil, false
	}

	crop := imaging.Crop(img, face.Box)
	if crop == nil {
		l.logger.Debug("face box outside image", "box", face.Box, "bounds", img.Bounds())
		return nil, false
	}
	return imaging.Resize(crop, l.size, l.size), true
}

func (l *Locator) detect(img image.Image) (candidates []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("face detector panicked: %v", r)
		}
	}()
	return l.detector.DetectFaces(img)
}
