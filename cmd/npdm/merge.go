package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fumin/npdm"
)

var (
	mergeDir         string
	mergeOrder       int
	mergeRep         string
	mergeFormat      string
	mergeConcurrency int
	mergeAccumulator string
	mergeOut         string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Sum the partial results of all positions and workers of a run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := npdm.Config{Order: mergeOrder}
		opt := npdm.MergeOptions{
			Dir:            mergeDir,
			Name:           cfg.Name(),
			Rank:           cfg.Rank(),
			Representation: npdm.Representation(mergeRep),
			Format:         npdm.Format(mergeFormat),
			Concurrency:    mergeConcurrency,
			Accumulator:    mergeAccumulator,
			Logger:         logger,
		}
		return merge(cmd, opt, mergeOut)
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeDir, "dir", "d", "", "run directory")
	mergeCmd.Flags().IntVar(&mergeOrder, "order", 4, "number of particles, 3 or 4")
	mergeCmd.Flags().StringVar(&mergeRep, "rep", string(npdm.Spatial), "representation, spin or spatial")
	mergeCmd.Flags().StringVar(&mergeFormat, "format", string(npdm.FormatBinary), "format of the partial results, text, binary or sqlite")
	mergeCmd.Flags().IntVar(&mergeConcurrency, "concurrency", 8, "files read at once")
	mergeCmd.Flags().StringVar(&mergeAccumulator, "accumulator", "", "sqlite database accumulating the sum instead of memory")
	mergeCmd.Flags().StringVarP(&mergeOut, "out", "o", "", "output file in text format, stdout if empty")
	mergeCmd.MarkFlagRequired("dir")
}

func merge(cmd *cobra.Command, opt npdm.MergeOptions, out string) error {
	if opt.Representation != npdm.Spin && opt.Representation != npdm.Spatial {
		return errors.Errorf("unknown representation %q", opt.Representation)
	}
	s, err := npdm.Merge(cmd.Context(), opt)
	if err != nil {
		return errors.Wrap(err, "")
	}
	logger.Info("merged", zap.Int("elements", s.Len()))

	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer f.Close()
		w = f
	}
	if err := npdm.WriteText(w, s); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
