// Package imaging decodes captured frames and provides the small set of pixel
// operations the recognition and liveness pipelines need.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrEmptyPayload is returned when a frame payload carries no data.
var ErrEmptyPayload = errors.New("empty image payload")

// Decode decodes raw image bytes (JPEG, PNG, GIF, BMP or WebP).
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if IsEmpty(img) {
		return nil, errors.New("decoded image has no pixels")
	}
	return img, nil
}

// DecodeBase64 decodes a base64 frame as sent by browsers. Both bare base64
// and data URLs ("data:image/jpeg;base64,...") are accepted.
func DecodeBase64(payload string) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.IndexByte(payload, ',')
		if idx < 0 {
			return nil, errors.New("malformed data URL")
		}
		payload = payload[idx+1:]
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip the padding.
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	return Decode(data)
}

// DecodeAll decodes every payload, skipping the ones that fail. It returns the
// decoded frames in order and the number of payloads that were dropped.
func DecodeAll(payloads []string) ([]image.Image, int) {
	frames := make([]image.Image, 0, len(payloads))
	dropped := 0
	for _, p := range payloads {
		img, err := DecodeBase64(p)
		if err != nil {
			dropped++
			continue
		}
		frames = append(frames, img)
	}
	return frames, dropped
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// IsEmpty reports whether img is nil or has no pixels.
func IsEmpty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}
