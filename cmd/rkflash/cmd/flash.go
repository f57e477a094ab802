package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/progress"
	"github.com/oshokin/rkflash/internal/service/station"
)

var (
	// flashAll selects every attached device.
	flashAll bool
	// flashLocIDs selects devices by location id.
	flashLocIDs []string

	errNoDevicesSelected = errors.New("select devices with --all or --loc-id")
	errFlashFailed       = errors.New("flash run failed")

	flashCmd = &cobra.Command{
		Use:   "flash <version> <board>",
		Short: "Assemble the image and flash it onto the selected devices.",
		Long: `Assembles the image of <version> for <board>, then flashes the loader,
parameter, u-boot, boot and root filesystem images onto every selected
device, one device at a time. A failing device does not stop the batch;
the command exits with a non-zero status if any device failed.`,
		Args: cobra.ExactArgs(2),
		RunE: runFlash,
	}
)

func runFlash(cmd *cobra.Command, args []string) error {
	if !flashAll && len(flashLocIDs) == 0 {
		return errNoDevicesSelected
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	st, err := newStation(ctx, station.Options{
		Sinks: []progress.Sink{progress.NewConsoleSink(out)},
	})
	if err != nil {
		return err
	}

	if err = st.Prepare(ctx, flash.BoardType(args[1]), args[0]); err != nil {
		return err
	}

	if _, err = st.Store.SetAllChecked(ctx, flashAll); err != nil {
		return err
	}

	for _, locID := range flashLocIDs {
		if _, err = st.Store.SetChecked(ctx, locID, true); err != nil {
			return err
		}
	}

	report, err := st.Flasher.Run(ctx)
	if err != nil {
		return err
	}

	switch {
	case report.State == flash.StateFailed:
		return fmt.Errorf("%w: %w", errFlashFailed, report.Err)
	case len(report.Failed) > 0:
		_, _ = fmt.Fprintln(out, color.RedString("failed: %s", strings.Join(report.Failed, ", ")))

		return fmt.Errorf("%w: %d of %d devices", errFlashFailed, len(report.Failed), len(report.Failed)+len(report.Succeeded))
	default:
		_, _ = fmt.Fprintln(out, color.GreenString("flashed %d devices", len(report.Succeeded)))

		return nil
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flashCmd.Flags().BoolVar(&flashAll, "all", false, "flash every attached device")
	flashCmd.Flags().StringSliceVar(&flashLocIDs, "loc-id", nil, "flash the device at this location id (repeatable)")

	rootCmd.AddCommand(flashCmd)
}
