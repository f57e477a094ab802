package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/rkflash/internal/service/station"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Enumerate the attached devices once.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newStation(cmd.Context(), station.Options{SkipPreflight: true})
		if err != nil {
			return err
		}

		devices, err := st.Registry.Refresh(cmd.Context(), nil)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DEVNO\tLOCATION\tMODE\tSERIAL")

		for _, d := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.DevNo, d.LocID, d.Mode, d.SerialNo)
		}

		return w.Flush()
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(devicesCmd)
}
