// Package station wires the flashing station components from settings.
package station

import (
	"context"
	"fmt"

	"github.com/oshokin/rkflash/internal/api/grpc/health"
	"github.com/oshokin/rkflash/internal/assembler"
	"github.com/oshokin/rkflash/internal/catalog"
	"github.com/oshokin/rkflash/internal/config"
	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/mount"
	"github.com/oshokin/rkflash/internal/progress"
	"github.com/oshokin/rkflash/internal/registry"
	repo "github.com/oshokin/rkflash/internal/repository/session"
	"github.com/oshokin/rkflash/internal/service/flasher"
	"github.com/oshokin/rkflash/internal/service/poller"
	"github.com/oshokin/rkflash/internal/session"
	"github.com/oshokin/rkflash/internal/tool"
)

// Station holds the wired components.
type Station struct {
	Config    *config.Config
	Boards    flash.BoardTable
	Runner    tool.Runner
	Registry  *registry.Registry
	Assembler *assembler.Assembler
	Events    *progress.Broadcaster
	Health    *health.Reporter
	Store     *session.Store
	Poller    *poller.Poller
	Flasher   *flasher.Flasher
}

// Options adjust the wiring.
type Options struct {
	// Sinks receive every update in addition to the broadcaster.
	Sinks []progress.Sink
	// Persist restores and saves the session file.
	Persist bool
	// Runner replaces the upgrade tool, for tests.
	Runner tool.Runner
	// Mounter replaces the loop mounter, for tests.
	Mounter mount.Mounter
	// SkipPreflight disables the foreign tool process check.
	SkipPreflight bool
}

// New wires a station from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Station, error) {
	boards := cfg.BoardTable()

	runner := opts.Runner
	if runner == nil {
		runner = tool.New(cfg.ToolPath)
	}

	events := progress.NewBroadcaster(0)
	reporter := health.NewReporter()

	sinks := progress.Multi{events, reporter, progress.NewLogSink(ctx)}
	sinks = append(sinks, opts.Sinks...)

	var repository repo.Repository
	if opts.Persist {
		repository = repo.NewFileRepository(cfg.SessionFile)
	}

	store, err := session.New(ctx, sinks, repository)
	if err != nil {
		return nil, fmt.Errorf("initialise session: %w", err)
	}

	s := &Station{
		Config:   cfg,
		Boards:   boards,
		Runner:   runner,
		Registry: registry.New(runner, cfg.SelectNewDevices),
		Assembler: assembler.New(assembler.Options{
			ArtifactsDir: cfg.ArtifactsDir,
			ReleaseDir:   cfg.ReleaseDir,
			WorkspaceDir: cfg.WorkspaceDir,
			Boards:       boards,
			Mounter:      opts.Mounter,
		}),
		Events: events,
		Health: reporter,
		Store:  store,
	}

	s.Poller = poller.New(s.Registry, store, cfg.PollInterval)

	var preflight func() error
	if !opts.SkipPreflight {
		preflight = func() error {
			return tool.EnsureNotRunning(cfg.ToolPath)
		}
	}

	s.Flasher = flasher.New(flasher.Options{
		Assembler: s.Assembler,
		Runner:    runner,
		Store:     store,
		Poller:    s.Poller,
		Preflight: preflight,
	})

	logger.DebugKV(ctx, "Station wired",
		"tool", cfg.ToolPath,
		"release_dir", cfg.ReleaseDir,
		"artifacts_dir", cfg.ArtifactsDir,
		"workspace_dir", cfg.WorkspaceDir)

	return s, nil
}

// Versions lists the release versions, newest first.
func (s *Station) Versions() ([]string, error) {
	return catalog.ListVersions(s.Config.ReleaseDir)
}

// Prepare selects board and version and enumerates the devices once.
func (s *Station) Prepare(ctx context.Context, board flash.BoardType, version string) error {
	if _, err := s.Boards.Lookup(board); err != nil {
		return err
	}

	if !catalog.Has(s.Config.ReleaseDir, version) {
		return &assembler.NotFoundError{Version: version, Path: catalog.ArchivePath(s.Config.ReleaseDir, version)}
	}

	if _, err := s.Store.Select(ctx, board, version); err != nil {
		return err
	}

	return s.Poller.RefreshNow(ctx)
}
