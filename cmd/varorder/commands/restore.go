package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/varorder/pkg/checkpoint"
)

// NewRestoreCommand creates the restore command, which unpacks a checkpoint
// archive into an output directory.
func NewRestoreCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive> <output-dir>",
		Short: "Unpack a checkpoint archive into an output directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}

			err = checkpoint.Restore(args[0], args[1])
			if err != nil {
				return err
			}

			if !global.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s (%s) into %s\n",
					args[0], humanize.Bytes(uint64(info.Size())), args[1])
			}

			return nil
		},
	}
}
