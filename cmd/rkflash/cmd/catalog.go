package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/rkflash/internal/catalog"
)

var (
	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "List the available release versions, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			versions, err := catalog.ListVersions(settings.ReleaseDir)
			if err != nil {
				return err
			}

			for _, v := range versions {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
			}

			return nil
		},
	}

	boardsCmd = &cobra.Command{
		Use:   "boards",
		Short: "List the supported board types.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			boards := settings.BoardTable()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "BOARD\tTREE\tBINARY\tOVERLAY")

			for _, name := range boards.Names() {
				profile, _ := boards.Lookup(name)
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", name, profile.TreeDir, profile.BinaryDir, profile.OverlayDirs)
			}

			return w.Flush()
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(versionsCmd, boardsCmd)
}
