// Package vision provides the OpenCV-backed face and eye detectors and
// fetches the model files they need.
package vision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/smart-attendance/internal/config"
)

// Upstream locations of the model assets.
const (
	PrototxtURL    = "https://raw.githubusercontent.com/opencv/opencv/master/samples/dnn/face_detector/deploy.prototxt"
	WeightsURL     = "https://raw.githubusercontent.com/opencv/opencv_3rdparty/dnn_samples_face_detector_20170830/res10_300x300_ssd_iter_140000.caffemodel"
	FaceCascadeURL = "https://raw.githubusercontent.com/opencv/opencv/master/data/haarcascades/haarcascade_frontalface_default.xml"
	EyeCascadeURL  = "https://raw.githubusercontent.com/opencv/opencv/master/data/haarcascades/haarcascade_eye.xml"
)

// Asset is a model file and where it comes from.
type Asset struct {
	Name string
	URL  string
	Path string
}

// Assets lists every model file for cfg.
func Assets(cfg config.ModelsConfig) []Asset {
	return []Asset{
		{Name: "ssd prototxt", URL: PrototxtURL, Path: cfg.PrototxtPath()},
		{Name: "ssd weights", URL: WeightsURL, Path: cfg.WeightsPath()},
		{Name: "face cascade", URL: FaceCascadeURL, Path: cfg.FaceCascadePath},
		{Name: "eye cascade", URL: EyeCascadeURL, Path: cfg.EyeCascadePath},
	}
}

// Downloader fetches missing model files.
type Downloader struct {
	client *http.Client
	logger *slog.Logger
}

// NewDownloader creates a Downloader. A nil client uses http.DefaultClient.
func NewDownloader(client *http.Client, logger *slog.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{client: client, logger: logger}
}

// EnsureAll downloads every asset whose file is missing and returns the
// paths it wrote.
func (d *Downloader) EnsureAll(ctx context.Context, assets []Asset) ([]string, error) {
	var fetched []string
	for _, a := range assets {
		if _, err := os.Stat(a.Path); err == nil {
			continue
		}
		d.logger.Info("downloading model", "name", a.Name, "url", a.URL, "path", a.Path)
		if err := d.Fetch(ctx, a.URL, a.Path); err != nil {
			return fetched, fmt.Errorf("download %s: %w", a.Name, err)
		}
		fetched = append(fetched, a.Path)
	}
	return fetched, nil
}

// Fetch downloads url into path atomically.
func (d *Downloader) Fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	resp, err := d.client.Do(req) //nolint:gosec // URL is one of the fixed asset locations
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move %s into place: %w", path, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return "(could not read body)"
	}
	return strings.TrimSpace(string(body))
}
