package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// errAddressRequired is returned when no address is given.
var errAddressRequired = errors.New("address must be provided")

// Probe asks the station at address for its health status.
// The connection is plaintext; the endpoint is meant for localhost.
func Probe(ctx context.Context, address string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if address == "" {
		return healthpb.HealthCheckResponse_UNKNOWN, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial station: %w", err)
	}

	defer func() {
		_ = conn.Close()
	}()

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("check health: %w", err)
	}

	return resp.GetStatus(), nil
}
