package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand adds a `version` subcommand to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := Current()
			if short {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), info)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print the version number only")
	root.AddCommand(cmd)
}
