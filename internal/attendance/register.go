package attendance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/smart-attendance/internal/database"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
)

// Registration is an enrollment request. Images keeps one slot per submitted
// payload; nil slots are payloads that failed to decode.
type Registration struct {
	ClassCode  string
	UserID     string
	Name       string
	Email      string
	Department string
	Images     []image.Image
}

// RegistrationResult reports what an enrollment stored.
type RegistrationResult struct {
	Identity        database.Identity
	EncodingsCount  int
	ImagesProcessed int
}

// Register encodes every usable image and stores the identity. Images
// without a detectable face are skipped.
func (s *Service) Register(ctx context.Context, reg Registration) (*RegistrationResult, error) {
	if len(reg.Images) < s.opts.MinRegistrationImages {
		return nil, fmt.Errorf("%w: got %d, need at least %d", ErrTooFewImages, len(reg.Images), s.opts.MinRegistrationImages)
	}
	if s.opts.MaxRegistrationImages > 0 && len(reg.Images) > s.opts.MaxRegistrationImages {
		return nil, fmt.Errorf("%w: got %d, at most %d allowed", ErrTooManyImages, len(reg.Images), s.opts.MaxRegistrationImages)
	}

	var (
		encodings []facematch.Encoding
		accepted  = make(map[int]image.Image)
	)
	for i, img := range reg.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if imaging.IsEmpty(img) {
			s.logger.Debug("registration image skipped", "user_id", reg.UserID, "index", i, "reason", "undecodable")
			continue
		}
		enc, ok := s.encoder.Encode(img)
		if !ok {
			s.logger.Debug("registration image skipped", "user_id", reg.UserID, "index", i, "reason", "no face")
			continue
		}
		encodings = append(encodings, enc)
		accepted[i] = img
	}

	if len(encodings) < s.opts.MinRegistrationEncodings {
		return nil, fmt.Errorf("%w: only %d valid face images found, need at least %d",
			ErrTooFewEncodings, len(encodings), s.opts.MinRegistrationEncodings)
	}

	ident := &database.Identity{
		UserID:     reg.UserID,
		Name:       reg.Name,
		Email:      reg.Email,
		Department: reg.Department,
		ClassCode:  reg.ClassCode,
		Encodings:  encodings,
	}
	if err := s.identities.CreateIdentity(ctx, ident); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyRegistered, reg.UserID, reg.ClassCode)
		}
		return nil, fmt.Errorf("store identity: %w", err)
	}
	s.logger.Info("user registered", "user_id", reg.UserID, "class", reg.ClassCode, "encodings", len(encodings))

	if s.opts.FacesDir != "" {
		s.saveFaces(reg.UserID, accepted)
	}

	stored := *ident
	stored.Encodings = nil
	return &RegistrationResult{
		Identity:        stored,
		EncodingsCount:  len(encodings),
		ImagesProcessed: len(encodings),
	}, nil
}

// saveFaces writes accepted images as FacesDir/<id>/<id>_<index>.jpg.
// Failures are logged; the enrollment is already stored.
func (s *Service) saveFaces(userID string, images map[int]image.Image) {
	name := SafePathComponent(userID)
	dir := filepath.Join(s.opts.FacesDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("create faces directory", "dir", dir, "error", err)
		return
	}
	for i, img := range images {
		data, err := imaging.EncodeJPEG(img, 90)
		if err != nil {
			s.logger.Warn("encode face image", "user_id", userID, "index", i, "error", err)
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", name, i))
		if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // path built from sanitized user id
			s.logger.Warn("write face image", "path", path, "error", err)
		}
	}
}

// SafePathComponent maps a user id onto a single file name component.
func SafePathComponent(id string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		return "_"
	}
	return clean
}
