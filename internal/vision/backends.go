package vision

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/recognition"
)

// Backends bundles the loaded detectors. They are read-only after Load and
// may be shared between requests.
type Backends struct {
	// Locator is the face detector used for recognition, SSD when its
	// model loaded and the face cascade otherwise.
	Locator     recognition.FaceDetector
	Strategy    recognition.Strategy
	FaceCascade *Cascade
	Eyes        *Cascade

	closers []func() error
}

// Load opens every detector. The face and eye cascades are required; the SSD
// network is optional and its absence switches the locator to the cascade.
func Load(models config.ModelsConfig, rec config.RecognitionConfig, live config.LivenessConfig, logger *slog.Logger) (*Backends, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &Backends{}

	faces, err := loadCascade(models.FaceCascadePath, rec.FaceMinSize)
	if err != nil {
		return nil, fmt.Errorf("face cascade: %w", err)
	}
	b.FaceCascade = faces
	b.closers = append(b.closers, faces.Close)

	eyes, err := loadCascade(models.EyeCascadePath, live.EyeMinSize)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("eye cascade: %w", err)
	}
	b.Eyes = eyes
	b.closers = append(b.closers, eyes.Close)

	ssd, closeSSD, err := loadSSD(models.PrototxtPath(), models.WeightsPath())
	if err != nil {
		logger.Warn("SSD face detector unavailable, falling back to Haar cascade", "error", err)
		b.Locator = faces
		b.Strategy = recognition.CascadeStrategy{}
	} else {
		b.Locator = ssd
		b.Strategy = recognition.SSDStrategy{MinConfidence: rec.SSDConfidence}
		b.closers = append(b.closers, closeSSD)
	}

	logger.Info("vision backends loaded", "locator", b.Strategy.Name())
	return b, nil
}

// Close releases every loaded detector.
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
