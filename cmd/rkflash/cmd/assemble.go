package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/service/station"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <version> <board>",
	Short: "Build the root filesystem image of a release for a board.",
	Long: `Builds <workspace_dir>/rootfs-<version>-<board>.img and prints its path.
An image that already exists is reused as is; delete it to rebuild.
Loop mounting requires root privileges.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStation(cmd.Context(), station.Options{SkipPreflight: true})
		if err != nil {
			return err
		}

		path, err := st.Assembler.Assemble(cmd.Context(), args[0], flash.BoardType(args[1]))
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(assembleCmd)
}
