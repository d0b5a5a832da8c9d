package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-attendance/internal/attendance"
	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/database/postgres"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/notify"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

var enrollCmd = &cobra.Command{
	Use:   "enroll <dir>",
	Short: "Register a user from a directory of face images",
	Long: `Register a user into a class from the images in a directory.
Images without a detectable face are skipped; the same minimum image and
encoding counts as the web registration apply.

Examples:
  smart-attendance enroll ./captures/alice --class CS101 --user-id CS-01 \
    --name "Alice Novak" --email alice@example.edu`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("class", "", "Class code to enroll into (required)")
	enrollCmd.Flags().String("user-id", "", "User ID (required)")
	enrollCmd.Flags().String("name", "", "Full name (required)")
	enrollCmd.Flags().String("email", "", "Email address (required)")
	enrollCmd.Flags().String("department", "", "Department")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	for _, f := range []string{"class", "user-id", "name", "email"} {
		_ = enrollCmd.MarkFlagRequired(f)
	}
}

// EnrollResult is the outcome of an enroll run
type EnrollResult struct {
	UserID          string `json:"user_id"`
	ClassCode       string `json:"class_code"`
	ImagesFound     int    `json:"images_found"`
	ImagesProcessed int    `json:"images_processed"`
	EncodingsCount  int    `json:"encodings_count"`
}

// listImages returns the image files directly inside dir, sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// readImages decodes every path, keeping a nil slot for files that fail.
func readImages(paths []string, jsonOutput bool) []image.Image {
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("Reading images"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	images := make([]image.Image, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err == nil {
			images[i], err = imaging.Decode(data)
		}
		if err != nil {
			logger.Debug("image skipped", "path", path, "error", err)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		fmt.Println()
	}
	return images
}

func runEnroll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	opts, err := attendance.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid attendance settings: %w", err)
	}

	paths, err := listImages(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}

	ctx := context.Background()
	pool, err := postgres.Initialize(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	pipe, err := loadPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	service := attendance.NewService(pipe.encoder, pipe.blink,
		postgres.NewIdentityRepository(pool), postgres.NewAttendanceRepository(pool),
		notify.Noop{}, opts, logger)

	reg := attendance.Registration{
		ClassCode:  mustGetString(cmd, "class"),
		UserID:     mustGetString(cmd, "user-id"),
		Name:       mustGetString(cmd, "name"),
		Email:      mustGetString(cmd, "email"),
		Department: mustGetString(cmd, "department"),
		Images:     readImages(paths, jsonOutput),
	}
	res, err := service.Register(ctx, reg)
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", reg.UserID, err)
	}

	result := EnrollResult{
		UserID:          res.Identity.UserID,
		ClassCode:       res.Identity.ClassCode,
		ImagesFound:     len(paths),
		ImagesProcessed: res.ImagesProcessed,
		EncodingsCount:  res.EncodingsCount,
	}
	if jsonOutput {
		return outputJSON(result)
	}
	fmt.Printf("Enrolled %s into %s\n", result.UserID, result.ClassCode)
	fmt.Printf("  Images:    %d found, %d with a face\n", result.ImagesFound, result.ImagesProcessed)
	fmt.Printf("  Encodings: %d\n", result.EncodingsCount)
	return nil
}
