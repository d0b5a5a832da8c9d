package cmd

import (
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/imaging"
	"github.com/kozaktomas/smart-attendance/internal/liveness"
)

var livenessCmd = &cobra.Command{
	Use:   "liveness <frame>...",
	Short: "Run the blink liveness check on image files",
	Long: `Run blink detection over a sequence of frames given in capture order and
print the verdict. With --still only the first file is checked with the
single-image check, which reports live when its detectors fail.

Examples:
  smart-attendance liveness frames/*.jpg
  smart-attendance liveness --still selfie.jpg --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLiveness,
}

func init() {
	rootCmd.AddCommand(livenessCmd)

	livenessCmd.Flags().Bool("still", false, "Use the single-image check on the first file")
	livenessCmd.Flags().Bool("json", false, "Output as JSON")
}

// LivenessResult is a verdict printed by the liveness command
type LivenessResult struct {
	Mode    string           `json:"mode"`
	Frames  int              `json:"frames"`
	Outcome string           `json:"outcome"`
	Verdict liveness.Verdict `json:"verdict"`
}

func decodeFiles(paths []string) ([]image.Image, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func runLiveness(cmd *cobra.Command, args []string) error {
	still := mustGetBool(cmd, "still")
	jsonOutput := mustGetBool(cmd, "json")
	if still {
		args = args[:1]
	}

	frames, err := decodeFiles(args)
	if err != nil {
		return err
	}

	pipe, err := loadPipeline(cmd.Context(), config.Load())
	if err != nil {
		return err
	}
	defer pipe.Close()

	result := LivenessResult{Mode: "blink", Frames: len(frames)}
	if still {
		result.Mode = "still"
		result.Verdict = pipe.still.CheckStill(frames[0])
	} else {
		result.Verdict = pipe.blink.AssessLiveness(frames)
	}
	result.Outcome = result.Verdict.Outcome.String()

	if jsonOutput {
		return outputJSON(result)
	}
	status := "NOT LIVE"
	if result.Verdict.IsLive {
		status = "LIVE"
	}
	fmt.Printf("%s (%s check over %d frame(s))\n", status, result.Mode, result.Frames)
	fmt.Printf("  Confidence: %.2f\n", result.Verdict.Confidence)
	fmt.Printf("  Reason:     %s\n", result.Verdict.Reason)
	return nil
}
