package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fumin/npdm"
)

var dumpRank int

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Print a persisted sparse result as text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dump(cmd, args[0], dumpRank)
	},
}

func init() {
	dumpCmd.Flags().IntVar(&dumpRank, "rank", 8, "rank of the index tuples")
}

func dump(cmd *cobra.Command, path string, rank int) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer f.Close()

	var s *npdm.Sparse
	switch filepath.Ext(path) {
	case ".bin":
		s, err = npdm.ReadBinary(f, rank)
	case ".txt":
		s, err = npdm.ReadText(f, rank)
	default:
		return errors.Errorf("unknown extension of %s", path)
	}
	if err != nil {
		return errors.Wrap(err, path)
	}
	if err := npdm.WriteText(cmd.OutOrStdout(), s); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
