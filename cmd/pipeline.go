package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/liveness"
	"github.com/kozaktomas/smart-attendance/internal/recognition"
	"github.com/kozaktomas/smart-attendance/internal/vision"
)

// pipeline is the recognition and liveness stack built from the loaded models.
type pipeline struct {
	backends *vision.Backends
	encoder  *recognition.Encoder
	blink    *liveness.Engine
	still    *liveness.StillChecker
}

func (p *pipeline) Close() error {
	return p.backends.Close()
}

// loadPipeline fetches missing model files when allowed, opens the detectors
// and wires the encoder and liveness checks on top of them.
func loadPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if cfg.Models.DownloadIfMissing {
		dlCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := vision.NewDownloader(nil, logger).EnsureAll(dlCtx, vision.Assets(cfg.Models)); err != nil {
			// The SSD network is optional; Load reports what is really missing.
			logger.Warn("model download failed", "error", err)
		}
	}

	backends, err := vision.Load(cfg.Models, cfg.Recognition, cfg.Liveness, logger)
	if err != nil {
		return nil, fmt.Errorf("loading vision models: %w", err)
	}

	locator := recognition.NewLocator(backends.Locator, backends.Strategy, logger)
	blink := liveness.NewEngine(backends.Eyes, liveness.Options{
		MinFrames:       cfg.Liveness.MinFrames,
		EyePresenceRate: cfg.Liveness.EyePresenceRate,
		BlinkDrop:       cfg.Liveness.BlinkDrop,
		ConfidenceScale: cfg.Liveness.ConfidenceScale,
	}, logger)
	still := liveness.NewStillChecker(backends.FaceCascade, backends.Eyes, cfg.Liveness.BlurMin, cfg.Liveness.BlurMax, logger)

	logger.Debug("face locator ready", "strategy", locator.Strategy())

	return &pipeline{
		backends: backends,
		encoder:  recognition.NewEncoder(locator, logger),
		blink:    blink,
		still:    still,
	}, nil
}
