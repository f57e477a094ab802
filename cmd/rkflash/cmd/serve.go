package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/rkflash/internal/api/grpc/health"
	"github.com/oshokin/rkflash/internal/service/server"
)

var (
	// listenAddress overrides the HTTP control API address.
	listenAddress string
	// healthAddress overrides the gRPC health endpoint address.
	healthAddress string

	errNotServing = errors.New("station is not serving")

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the flashing station with its HTTP control API.",
		Long: `Polls the attached devices, serves the HTTP control API and the gRPC
health endpoint until interrupted. The operator's board, version and
device selection is kept in the session file across restarts.
On SIGINT/SIGTERM a flash run in progress finishes before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadSettings(); err != nil {
				return err
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				HealthAddress: healthAddress,
			}

			return server.Run(cmd.Context(), options)
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Query the health endpoint of a running station.",
		Long:  "Prints SERVING while the station is idle and NOT_SERVING during a flash run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			address := settings.HealthAddress
			if healthAddress != "" {
				address = healthAddress
			}

			status, err := health.Probe(cmd.Context(), address, 5*time.Second)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), status.String())

			if status != healthpb.HealthCheckResponse_SERVING {
				return errNotServing
			}

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	serveCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "HTTP control API address (overrides config)")
	serveCmd.Flags().StringVar(&healthAddress, "health-listen", "", "gRPC health address (overrides config)")
	healthCmd.Flags().StringVar(&healthAddress, "address", "", "gRPC health address (overrides config)")

	rootCmd.AddCommand(serveCmd, healthCmd)
}
