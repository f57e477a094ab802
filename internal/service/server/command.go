// Package server runs the long-lived flashing station: device polling,
// the HTTP control API and the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/oshokin/rkflash/internal/api/http/control"
	"github.com/oshokin/rkflash/internal/config"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/service/station"
)

// Options controls the station server process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress overrides the HTTP control API address.
	ListenAddress string
	// HealthAddress overrides the gRPC health endpoint address.
	HealthAddress string
}

const (
	// readHeaderTimeout bounds slow HTTP clients.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout bounds the HTTP graceful shutdown.
	shutdownTimeout = 5 * time.Second
)

// Run starts the station and blocks until ctx is canceled. A flash run in
// progress is allowed to finish before the process exits.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "rkflash-server")

	// Load configuration first to get server settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Command line addresses override the configured ones.
	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.HealthAddress != "" {
		settings.HealthAddress = opts.HealthAddress
	}

	st, err := station.New(ctx, settings, station.Options{Persist: true})
	if err != nil {
		return err
	}

	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
	}

	grpcListener, err := lc.Listen(ctx, "tcp", settings.HealthAddress)
	if err != nil {
		_ = httpListener.Close()

		return fmt.Errorf("listen on %s: %w", settings.HealthAddress, err)
	}

	return serve(ctx, st, httpListener, grpcListener)
}

// serve runs the poller and both servers on the given listeners.
func serve(ctx context.Context, st *station.Station, httpListener, grpcListener net.Listener) error {
	// Event streams outlive their requests; Shutdown ends them through this.
	streams, stopStreams := context.WithCancel(context.WithoutCancel(ctx))
	defer stopStreams()

	api := control.NewServer(control.Options{
		Session:   st.Store,
		Flasher:   st.Flasher,
		Refresher: st.Poller,
		Events:    st.Events,
		Catalog:   st.Versions,
		Boards:    st.Boards,
		Shutdown:  streams.Done(),
	})

	httpServer := &http.Server{
		Handler:           api.Echo(ctx),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	httpServer.RegisterOnShutdown(stopStreams)

	grpcServer := grpc.NewServer()
	st.Health.Register(grpcServer)

	logger.InfoKV(ctx, "Station listening",
		"listen_address", httpListener.Addr().String(),
		"health_address", grpcListener.Addr().String())

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return st.Poller.Run(groupCtx)
	})

	group.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		if st.Flasher.Busy() {
			logger.Info(ctx, "Waiting for the flash run to finish")
		}

		st.Flasher.Wait()

		logger.Info(ctx, "Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)

		st.Health.Shutdown()
		grpcServer.GracefulStop()

		return err
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Station stopped")

	return nil
}
