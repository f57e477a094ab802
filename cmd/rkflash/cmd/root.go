package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/rkflash/internal/config"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/service/station"
	"github.com/oshokin/rkflash/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "rkflash",
		Short: "Assemble root filesystem images and flash them onto Rockchip boards.",
		Long: `rkflash builds a board- and release-specific root filesystem image by
overlaying release files onto the base image, then drives the vendor
upgrade_tool to flash it, together with the boot artifacts, onto every
selected device attached over USB.

Releases are read from <release_dir>/<version>.zip and boot artifacts from
<artifacts_dir>. Assembled images are cached in <workspace_dir>.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return applyLogLevel(logLevel)
		},
	}
)

// Execute runs the rkflash CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func applyLogLevel(value string) error {
	if value == "" {
		return nil
	}

	level, ok := logger.ParseLogLevel(value)
	if !ok {
		return fmt.Errorf("unknown log level %q", value)
	}

	logger.SetLevel(level)

	return nil
}

// loadSettings reads the configuration and applies its log level unless
// the flag set one.
func loadSettings() (*config.Config, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if logLevel == "" {
		if err = applyLogLevel(settings.LogLevel); err != nil {
			return nil, err
		}
	}

	return settings, nil
}

// newStation loads the settings and wires a station for one-shot commands.
func newStation(ctx context.Context, opts station.Options) (*station.Station, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	return station.New(ctx, settings, opts)
}
