package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/progress"
)

// TestReporter_FollowsRunState flips to NOT_SERVING during a run.
func TestReporter_FollowsRunState(t *testing.T) {
	t.Parallel()

	lc := net.ListenConfig{}

	lis, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	reporter := NewReporter()
	server := grpc.NewServer()
	reporter.Register(server)

	go func() {
		_ = server.Serve(lis)
	}()

	t.Cleanup(server.Stop)

	ctx := context.Background()
	addr := lis.Addr().String()

	status, err := Probe(ctx, addr, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	reporter.Publish(progress.Update{State: flash.StateFlashing})

	status, err = Probe(ctx, addr, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	reporter.Publish(progress.Update{State: flash.StateDone})

	status, err = Probe(ctx, addr, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	reporter.Shutdown()

	status, err = Probe(ctx, addr, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

// TestProbe_RequiresAddress rejects an empty address.
func TestProbe_RequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := Probe(context.Background(), "", time.Second)
	require.ErrorIs(t, err, errAddressRequired)
}
