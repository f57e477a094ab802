package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/rkflash/internal/progress"
	"github.com/oshokin/rkflash/internal/service/station"
)

var (
	// maskromAll switches every attached device.
	maskromAll bool
	// maskromLocIDs limits the switch to these devices.
	maskromLocIDs []string
)

var maskromCmd = &cobra.Command{
	Use:   "maskrom",
	Short: "Reboot devices into maskrom download mode.",
	Long: `Runs "upgrade_tool -s <loc_id> rd 3" on the devices given with --loc-id,
or on every attached device with --all.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !maskromAll && len(maskromLocIDs) == 0 {
			return errNoDevicesSelected
		}

		ctx := cmd.Context()

		st, err := newStation(ctx, station.Options{
			Sinks: []progress.Sink{progress.NewConsoleSink(cmd.OutOrStdout())},
		})
		if err != nil {
			return err
		}

		if err = st.Poller.RefreshNow(ctx); err != nil {
			return err
		}

		if maskromAll {
			if _, err = st.Store.SetAllChecked(ctx, true); err != nil {
				return err
			}
		}

		return st.Flasher.SwitchToMaskrom(ctx, maskromLocIDs)
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	maskromCmd.Flags().BoolVar(&maskromAll, "all", false, "switch every attached device")
	maskromCmd.Flags().StringSliceVar(&maskromLocIDs, "loc-id", nil, "switch the device at this location id (repeatable)")

	rootCmd.AddCommand(maskromCmd)
}
