package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/facematch"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <image>",
	Short: "Print the face encoding of an image",
	Long: `Locate the face in an image and print its 128-value encoding as JSON.
With a second image the distance between the two faces is printed as well,
plus the match confidence when they are close enough to be the same person.

Examples:
  smart-attendance encode alice.jpg
  smart-attendance encode alice.jpg probe.jpg`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
}

// EncodeResult is the output of the encode command
type EncodeResult struct {
	Image      string             `json:"image"`
	Encoding   facematch.Encoding `json:"encoding"`
	Compare    string             `json:"compare,omitempty"`
	Distance   *float64           `json:"distance,omitempty"`
	Confidence *float64           `json:"confidence,omitempty"`
}

var errNoFace = errors.New("no face detected")

func runEncode(cmd *cobra.Command, args []string) error {
	images, err := decodeFiles(args)
	if err != nil {
		return err
	}

	cfg := config.Load()
	pipe, err := loadPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	encodings := make([]facematch.Encoding, len(images))
	for i, img := range images {
		enc, ok := pipe.encoder.Encode(img)
		if !ok {
			return fmt.Errorf("%s: %w", args[i], errNoFace)
		}
		encodings[i] = enc
	}

	result := EncodeResult{Image: args[0], Encoding: encodings[0]}
	if len(encodings) == 2 {
		_, distance, ok := facematch.Compare(encodings[:1], encodings[1], cfg.Recognition.MatchThreshold)
		result.Compare = args[1]
		result.Distance = &distance
		if ok {
			c := facematch.Result{Distance: distance}.Confidence()
			result.Confidence = &c
		}
	}
	return outputJSON(result)
}
