package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/smart-attendance/internal/config"
	"github.com/kozaktomas/smart-attendance/internal/vision"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Download the face and eye detector models",
	Long: `Download the Caffe SSD face detector and the Haar cascades into the
locations configured by MODELS_DIR, FACE_CASCADE_PATH and EYE_CASCADE_PATH.
Files that already exist are left alone unless --force is given.`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().Bool("force", false, "Download even when the files exist")
	modelsCmd.Flags().Int("timeout", 300, "Download timeout in seconds")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	assets := vision.Assets(cfg.Models)

	if mustGetBool(cmd, "force") {
		for _, a := range assets {
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", a.Path, err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(mustGetInt(cmd, "timeout"))*time.Second)
	defer cancel()

	fetched, err := vision.NewDownloader(nil, logger).EnsureAll(ctx, assets)
	for _, path := range fetched {
		fmt.Printf("Downloaded %s\n", path)
	}
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		fmt.Println("All models present")
	}
	return nil
}
