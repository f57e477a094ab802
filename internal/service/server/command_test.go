package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/rkflash/internal/api/grpc/health"
	"github.com/oshokin/rkflash/internal/api/http/control"
	"github.com/oshokin/rkflash/internal/config"
	"github.com/oshokin/rkflash/internal/service/station"
)

type listRunner struct{}

func (listRunner) Run(context.Context, string, string, ...string) error {
	return nil
}

func (listRunner) Output(context.Context, ...string) ([]byte, error) {
	return []byte("DevNo=1\tLocationID=21\tMode=Maskrom\tSerialNo=\n"), nil
}

func listen(t *testing.T) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}

	l, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	return l
}

// TestServe starts the station, queries both endpoints and shuts down.
func TestServe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{
		ReleaseDir:   filepath.Join(dir, "upgrade"),
		ArtifactsDir: filepath.Join(dir, "rockdev"),
		WorkspaceDir: filepath.Join(dir, "tmp"),
		SessionFile:  filepath.Join(dir, "session.yaml"),
		PollInterval: 10 * time.Millisecond,
	}
	require.NoError(t, config.Validate(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := station.New(ctx, cfg, station.Options{Runner: listRunner{}, SkipPreflight: true})
	require.NoError(t, err)

	httpListener, grpcListener := listen(t), listen(t)

	done := make(chan error, 1)

	go func() { done <- serve(ctx, st, httpListener, grpcListener) }()

	url := "http://" + httpListener.Addr().String() + "/api/session"

	require.Eventually(t, func() bool {
		resp, getErr := http.Get(url) //nolint:noctx // Test polling.
		if getErr != nil {
			return false
		}

		defer func() { _ = resp.Body.Close() }()

		var body control.SessionResponse
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}

		return len(body.Session.Devices) == 1 && body.Session.Devices[0].LocID == "21"
	}, 2*time.Second, 20*time.Millisecond)

	status, err := health.Probe(ctx, grpcListener.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	// A connected event stream must not hold up shutdown.
	streamReq, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		"http://"+httpListener.Addr().String()+"/api/events", nil)
	require.NoError(t, err)

	stream, err := http.DefaultClient.Do(streamReq)
	require.NoError(t, err)

	defer func() { _ = stream.Body.Close() }()

	line, err := bufio.NewReader(stream.Body).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: progress\n", line)

	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

// TestRun_BadConfig fails before listening.
func TestRun_BadConfig(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), &Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.ErrorContains(t, err, "load settings")
}
