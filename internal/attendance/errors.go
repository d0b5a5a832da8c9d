package attendance

import (
	"errors"

	"github.com/kozaktomas/smart-attendance/internal/liveness"
)

var (
	// ErrNoFaceDetected means the locator found no face in the recognition frame.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrInsufficientFrames means a blink sequence was too short to assess.
	ErrInsufficientFrames = errors.New("not enough frames for blink detection")
	// ErrLivenessRejected means the blink engine did not accept the sequence.
	ErrLivenessRejected = errors.New("liveness check failed")
	// ErrNoMatch means no enrolled identity was close enough to the probe.
	ErrNoMatch = errors.New("face not recognized")
	// ErrDegenerateInput means the frame was missing or had no pixels.
	ErrDegenerateInput = errors.New("invalid image")
	// ErrNoIdentities means the class has nobody enrolled.
	ErrNoIdentities = errors.New("no registered users in class")

	ErrAlreadyRegistered = errors.New("user already registered in class")
	ErrTooFewImages      = errors.New("not enough face images")
	ErrTooManyImages     = errors.New("too many face images")
	ErrTooFewEncodings   = errors.New("not enough valid face images")
	ErrInvalidDate       = errors.New("invalid date")
	ErrNoRecords         = errors.New("no attendance records found")
)

// LivenessError carries the verdict of a rejected blink sequence. It unwraps
// to ErrInsufficientFrames or ErrLivenessRejected.
type LivenessError struct {
	Verdict liveness.Verdict
}

func (e *LivenessError) Error() string {
	return e.Verdict.Reason
}

func (e *LivenessError) Unwrap() error {
	if e.Verdict.Outcome == liveness.OutcomeInsufficientFrames {
		return ErrInsufficientFrames
	}
	return ErrLivenessRejected
}
