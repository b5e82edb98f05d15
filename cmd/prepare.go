package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"soraq/reference"
	"soraq/state"
)

var (
	prepareSize   string
	prepareOutput string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare <image>",
	Short: "Conform a reference image to an output size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		data, err := reference.ReadLimited(f, cfg.MaxReferenceSize)
		if err != nil {
			return err
		}
		p := reference.NewPreparer(cfg.MaxReferenceSize, cfg.JPEGQuality)
		out, err := p.Prepare(data, prepareSize)
		if err != nil {
			return err
		}

		dest := prepareOutput
		if dest == "" {
			dest = fmt.Sprintf("reference_%s.jpg", prepareSize)
		}
		if err := state.WriteFile(dest, out, 0o644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d bytes, %s)\n", dest, len(out), reference.OutputType)
		return nil
	},
}

func init() {
	prepareCmd.Flags().StringVarP(&prepareSize, "size", "s", "1280x720", "target size WIDTHxHEIGHT")
	prepareCmd.Flags().StringVarP(&prepareOutput, "output", "o", "", "output path (default reference_<size>.jpg)")
	rootCmd.AddCommand(prepareCmd)
}
