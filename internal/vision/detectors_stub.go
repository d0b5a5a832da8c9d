//go:build !opencv

package vision

import (
	"errors"
	"image"

	"github.com/kozaktomas/smart-attendance/internal/recognition"
)

// Enabled reports whether this binary was built with OpenCV support.
const Enabled = false

var errNoOpenCV = errors.New("opencv support not enabled; build with -tags opencv")

// Cascade is unavailable without OpenCV.
type Cascade struct{}

func (*Cascade) DetectFaces(image.Image) ([]recognition.Candidate, error) { return nil, errNoOpenCV }
func (*Cascade) DetectEyes(image.Image) ([]image.Rectangle, error)        { return nil, errNoOpenCV }
func (*Cascade) Close() error                                             { return nil }

func loadSSD(_, _ string) (recognition.FaceDetector, func() error, error) {
	return nil, nil, errNoOpenCV
}

func loadCascade(_ string, _ int) (*Cascade, error) {
	return nil, errNoOpenCV
}
