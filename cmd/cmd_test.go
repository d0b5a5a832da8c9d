package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/smart-attendance/internal/config"
)

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt", "c.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths, err := listImages(dir)
	if err != nil {
		t.Fatalf("listImages() error = %v", err)
	}
	want := []string{"a.png", "b.JPG", "c.webp"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i, w := range want {
		if filepath.Base(paths[i]) != w {
			t.Errorf("path %d: expected %s, got %s", i, w, paths[i])
		}
	}
}

func TestListImages_MissingDir(t *testing.T) {
	if _, err := listImages(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestReadImages_KeepsSlotsForBadFiles(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	images := readImages([]string{bad, filepath.Join(dir, "missing.jpg")}, true)
	if len(images) != 2 || images[0] != nil || images[1] != nil {
		t.Errorf("expected two nil slots, got %v", images)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(config.LogConfig{Level: tt.level, Format: "json"})
			if !l.Enabled(context.Background(), tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
				t.Errorf("level below %s should be disabled", tt.want)
			}
		})
	}
}
