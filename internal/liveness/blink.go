package liveness

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/kozaktomas/smart-attendance/internal/constants"
)

const (
	ReasonEyesNotDetected = "eyes not consistently detected"
	ReasonBlinkDetected   = "blink pattern detected"
	ReasonNoBlink         = "no blink detected - please blink"
)

// opennessEpsilon keeps a zero-width box from dividing by zero.
const opennessEpsilon = 1e-6

// Options tunes the blink engine.
type Options struct {
	MinFrames       int
	EyePresenceRate float64 // fraction of frames that must show two eyes
	BlinkDrop       float64 // mean-minus-min openness that counts as a blink
	ConfidenceScale float64 // drop that maps to 100% confidence
}

// DefaultOptions returns the standard blink thresholds.
func DefaultOptions() Options {
	return Options{
		MinFrames:       constants.MinBlinkFrames,
		EyePresenceRate: constants.EyePresenceRate,
		BlinkDrop:       constants.BlinkDropThreshold,
		ConfidenceScale: constants.BlinkConfidenceScale,
	}
}

// Engine runs blink detection over a burst of frames. It keeps no state
// between calls and is safe for concurrent use when its detector is.
type Engine struct {
	eyes   EyeDetector
	opts   Options
	logger *slog.Logger
}

// NewEngine creates a blink engine. Zero option fields fall back to defaults.
func NewEngine(eyes EyeDetector, opts Options, logger *slog.Logger) *Engine {
	def := DefaultOptions()
	if opts.MinFrames <= 0 {
		opts.MinFrames = def.MinFrames
	}
	if opts.EyePresenceRate <= 0 {
		opts.EyePresenceRate = def.EyePresenceRate
	}
	if opts.BlinkDrop <= 0 {
		opts.BlinkDrop = def.BlinkDrop
	}
	if opts.ConfidenceScale <= 0 {
		opts.ConfidenceScale = def.ConfidenceScale
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{eyes: eyes, opts: opts, logger: logger}
}

// MinFrames returns the number of frames a sequence needs.
func (e *Engine) MinFrames() int {
	return e.opts.MinFrames
}

// AssessLiveness decides whether frames contain a blink. Frames are
// expected in capture order.
func (e *Engine) AssessLiveness(frames []image.Image) (v Verdict) {
	if len(frames) < e.opts.MinFrames {
		return reject(OutcomeInsufficientFrames,
			fmt.Sprintf("need at least %d frames for blink detection", e.opts.MinFrames))
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("blink detection panicked", "error", r)
			v = reject(OutcomeError, fmt.Sprint(r))
		}
	}()

	// Eyes are detected once per frame and the boxes feed both the
	// presence gate and the openness series.
	detections := make([][]image.Rectangle, len(frames))
	withEyes := 0
	for i, frame := range frames {
		boxes, err := e.eyes.DetectEyes(frame)
		if err != nil {
			e.logger.Warn("eye detection failed", "frame", i, "error", err)
			return reject(OutcomeError, err.Error())
		}
		detections[i] = boxes
		if len(boxes) >= 2 {
			withEyes++
		}
	}

	rate := float64(withEyes) / float64(len(frames))
	e.logger.Debug("eye presence", "frames", len(frames), "with_eyes", withEyes, "rate", rate)
	if rate < e.opts.EyePresenceRate {
		return reject(OutcomeEyesNotDetected, ReasonEyesNotDetected)
	}

	openness := make([]float64, len(detections))
	for i, boxes := range detections {
		openness[i] = Openness(boxes)
	}

	a := AnalyzeBlink(openness, e.opts.BlinkDrop, e.opts.ConfidenceScale)
	e.logger.Debug("blink analysis",
		"openness", openness, "mean", a.Mean, "min", a.Min, "drop", a.Drop, "confidence", a.Confidence)

	if a.Detected {
		return Verdict{IsLive: true, Confidence: a.Confidence, Reason: ReasonBlinkDetected, Outcome: OutcomeLive}
	}
	return Verdict{IsLive: false, Confidence: a.Confidence, Reason: ReasonNoBlink, Outcome: OutcomeNoBlink}
}

// Openness averages the height/width ratio of the two largest eye boxes.
// Fewer than two boxes count as closed (0).
func Openness(eyes []image.Rectangle) float64 {
	if len(eyes) < 2 {
		return 0
	}
	var sum float64
	for _, r := range largestByArea(eyes, 2) {
		sum += float64(r.Dy()) / (float64(r.Dx()) + opennessEpsilon)
	}
	return sum / 2
}

// BlinkAnalysis summarizes an openness series.
type BlinkAnalysis struct {
	Mean       float64
	Min        float64
	Drop       float64
	Detected   bool
	Confidence float64
}

// AnalyzeBlink looks for a dip in the openness series: a blink is detected
// when the mean exceeds the minimum by more than drop. Confidence scales the
// dip linearly so that a dip of scale reads as 100.
func AnalyzeBlink(openness []float64, drop, scale float64) BlinkAnalysis {
	if len(openness) == 0 {
		return BlinkAnalysis{}
	}

	var sum float64
	lowest := openness[0]
	for _, o := range openness {
		sum += o
		lowest = math.Min(lowest, o)
	}
	mean := sum / float64(len(openness))
	d := mean - lowest

	return BlinkAnalysis{
		Mean:       mean,
		Min:        lowest,
		Drop:       d,
		Detected:   d > drop,
		Confidence: math.Max(0, math.Min(d/scale*100, 100)),
	}
}
