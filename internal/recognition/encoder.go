package recognition

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/kozaktomas/smart-attendance/internal/constants"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
)

// Histogram range of the standardized intensities.
const (
	histMin = -3.0
	histMax = 3.0
)

// FaceLocator crops the face out of a frame.
type FaceLocator interface {
	Locate(img image.Image) (image.Image, bool)
}

// Encoder produces face encodings from frames.
type Encoder struct {
	locator FaceLocator
	logger  *slog.Logger
}

// NewEncoder creates an encoder on top of a face locator.
func NewEncoder(locator FaceLocator, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Encoder{locator: locator, logger: logger}
}

// Encode locates the face in img and returns its encoding. It returns false
// when no face is found or the region cannot be processed.
func (e *Encoder) Encode(img image.Image) (enc facematch.Encoding, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("encoding failed", "error", fmt.Sprint(r))
			enc, ok = nil, false
		}
	}()

	face, found := e.locator.Locate(img)
	if !found {
		return nil, false
	}
	enc = EncodeRegion(face)
	if enc == nil {
		return nil, false
	}
	return enc, true
}

// EncodeRegion computes the encoding of an already located face region:
// luma values are standardized to zero mean and unit variance, bucketed into
// EncodingDim bins over [-3, 3) and the histogram is min-max scaled to [0, 1].
// A uniform region is left unstandardized. Returns nil for an empty region.
func EncodeRegion(face image.Image) facematch.Encoding {
	if imaging.IsEmpty(face) {
		return nil
	}
	gray := imaging.Grayscale(face)

	values := make([]float64, len(gray.Pix))
	var sum float64
	for i, p := range gray.Pix {
		values[i] = float64(p)
		sum += values[i]
	}
	n := float64(len(values))
	mean := sum / n

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	if std := math.Sqrt(sq / n); std > 0 {
		for i := range values {
			values[i] = (values[i] - mean) / std
		}
	}

	bins := constants.EncodingDim
	width := (histMax - histMin) / float64(bins)
	hist := make([]float64, bins)
	for _, v := range values {
		if v < histMin || v >= histMax {
			continue
		}
		idx := int((v - histMin) / width)
		if idx >= bins {
			idx = bins - 1
		}
		hist[idx]++
	}

	lo, hi := hist[0], hist[0]
	for _, h := range hist[1:] {
		lo = min(lo, h)
		hi = max(hi, h)
	}

	enc := make(facematch.Encoding, bins)
	if hi > lo {
		for i, h := range hist {
			enc[i] = float32((h - lo) / (hi - lo))
		}
	}
	return enc
}
