package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moddengine/imgfeed/imgproc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCropCommand(app *cli) *cobra.Command {
	view := imgproc.CenteredViewport
	var width int
	cmd := &cobra.Command{
		Use:   "crop <in> <out>",
		Short: "Crop an image to the publishing aspect ratio",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			asset, region, err := newCropper(app.cfg).CropViewport(payload, view, width)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], asset.Payload, 0o644); err != nil {
				return err
			}
			app.log.Debug("Cropped",
				zap.String("in", args[0]),
				zap.Int("x", region.X),
				zap.Int("y", region.Y),
				zap.Int("width", region.Width),
				zap.Int("height", region.Height))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d, %d bytes\n", args[1], asset.Width, asset.Height, len(asset.Payload))
			return nil
		},
	}
	cmd.Flags().Float64Var(&view.Zoom, "zoom", view.Zoom, "zoom factor, 1 shows the largest possible area")
	cmd.Flags().Float64Var(&view.PanX, "pan-x", view.PanX, "horizontal position from 0 (left) to 1 (right)")
	cmd.Flags().Float64Var(&view.PanY, "pan-y", view.PanY, "vertical position from 0 (top) to 1 (bottom)")
	cmd.Flags().IntVar(&width, "width", 0, "output width, 0 keeps the source pixels")
	return cmd
}

func newOptimizeCommand(app *cli) *cobra.Command {
	var (
		format  string
		quality int
	)
	cmd := &cobra.Command{
		Use:   "optimize <in> <out>",
		Short: "Re-encode an image to a target format and quality",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(args[1]), ".")
			}
			res, err := newOptimizer(app.cfg).Optimize(payload, format, quality)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], res.Payload, 0o644); err != nil {
				return err
			}
			saved := 100 - res.Size*100/max(1, len(payload))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d -> %d bytes (%d%% saved)\n", args[1], len(payload), res.Size, saved)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "jpeg, png or webp (default from the output extension)")
	cmd.Flags().IntVar(&quality, "quality", defaultQuality, "quality from 0 to 100")
	return cmd
}
