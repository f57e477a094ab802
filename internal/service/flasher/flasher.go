package flasher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/session"
	"github.com/oshokin/rkflash/internal/tool"
)

var (
	// ErrBusy is returned when a run or a maskrom switch is already active.
	ErrBusy = errors.New("flasher is busy")

	errNoBoard   = errors.New("no board selected")
	errNoVersion = errors.New("no release version selected")
)

// Assembler produces the image flashed onto every device.
type Assembler interface {
	Assemble(ctx context.Context, version string, board flash.BoardType) (string, error)
	Artifacts(rootfs string) tool.Artifacts
}

// Pauser suspends device polling for the duration of a run.
type Pauser interface {
	Pause()
	Resume()
}

// Options wire a Flasher to its collaborators.
type Options struct {
	Assembler Assembler
	Runner    tool.Runner
	Store     *session.Store
	// Poller is paused during runs; nil when nothing polls.
	Poller Pauser
	// Preflight runs before assembly, e.g. to detect a foreign tool process.
	Preflight func() error
}

// Report summarizes one run.
type Report struct {
	RunID string
	State flash.State
	// Succeeded and Failed hold location ids in flashing order.
	Succeeded []string
	Failed    []string
	// Err is the assembly error of a failed run, or the combined device
	// failures of a finished one.
	Err error
}

// Flasher sequences flash runs. Only one run is active at a time.
type Flasher struct {
	assembler Assembler
	runner    tool.Runner
	store     *session.Store
	poller    Pauser
	preflight func() error

	mu   sync.Mutex
	busy bool
	wg   sync.WaitGroup
}

// New creates a Flasher.
func New(opts Options) *Flasher {
	return &Flasher{
		assembler: opts.Assembler,
		runner:    opts.Runner,
		store:     opts.Store,
		poller:    opts.Poller,
		preflight: opts.Preflight,
	}
}

// Busy reports whether a run or maskrom switch is active.
func (f *Flasher) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.busy
}

func (f *Flasher) acquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.busy {
		return false
	}

	f.busy = true

	return true
}

func (f *Flasher) release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.busy = false
}

// Start launches a run in its own goroutine and returns its id. The run is
// detached from ctx cancellation: a device sequence always runs to its end.
func (f *Flasher) Start(ctx context.Context) (string, error) {
	if !f.acquire() {
		return "", ErrBusy
	}

	runID := uuid.NewString()
	runCtx := context.WithoutCancel(ctx)

	f.wg.Add(1)

	go func() {
		defer f.wg.Done()
		defer f.release()

		_, _ = f.run(runCtx, runID)
	}()

	return runID, nil
}

// Run executes a run synchronously.
func (f *Flasher) Run(ctx context.Context) (*Report, error) {
	if !f.acquire() {
		return nil, ErrBusy
	}

	defer f.release()

	return f.run(ctx, uuid.NewString())
}

// Wait blocks until runs started with Start have finished.
func (f *Flasher) Wait() {
	f.wg.Wait()
}

func (f *Flasher) run(ctx context.Context, runID string) (*Report, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "flasher"), "run_id", runID)

	if f.poller != nil {
		f.poller.Pause()
		defer f.poller.Resume()
	}

	snapshot, err := f.store.BeginRun(runID, flash.StateAssembling)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}

	report := &Report{RunID: runID}
	started := time.Now()

	logger.InfoKV(ctx, "Flash run started", "board", snapshot.Board, "version", snapshot.Version)

	image, err := f.prepare(ctx, snapshot)
	if err != nil {
		logger.ErrorKV(ctx, "Flash run failed", "error", err)

		report.State, report.Err = flash.StateFailed, err
		f.store.SetState(flash.StateFailed, err)

		return report, nil
	}

	selected := snapshot.Selected()
	if len(selected) == 0 {
		logger.Info(ctx, "No devices selected")

		report.State = flash.StateDone
		f.store.SetState(flash.StateDone, nil)

		return report, nil
	}

	artifacts := f.assembler.Artifacts(image)

	for _, d := range selected {
		f.setProgress(ctx, d.LocID, flash.ProgressReady)
	}

	f.store.SetState(flash.StateFlashing, nil)

	var failures *multierror.Error

	for i, d := range selected {
		deviceCtx := logger.WithKV(ctx, "loc_id", d.LocID, "device", fmt.Sprintf("%d/%d", i+1, len(selected)))

		if err = f.flashDevice(deviceCtx, artifacts, d.LocID); err != nil {
			failures = multierror.Append(failures, err)
			report.Failed = append(report.Failed, d.LocID)

			continue
		}

		report.Succeeded = append(report.Succeeded, d.LocID)
	}

	report.State = flash.StateDone
	report.Err = failures.ErrorOrNil()
	f.store.SetState(flash.StateDone, report.Err)

	logger.InfoKV(ctx, "Flash run finished",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"elapsed", time.Since(started).Round(time.Second))

	return report, nil
}

// prepare validates the session and assembles the image.
func (f *Flasher) prepare(ctx context.Context, snapshot *flash.Session) (string, error) {
	if snapshot.Board == "" {
		return "", errNoBoard
	}

	if snapshot.Version == "" {
		return "", errNoVersion
	}

	if f.preflight != nil {
		if err := f.preflight(); err != nil {
			return "", err
		}
	}

	return f.assembler.Assemble(ctx, snapshot.Version, snapshot.Board)
}

// flashDevice runs the step sequence on one device, stopping at the first
// failing step.
func (f *Flasher) flashDevice(ctx context.Context, artifacts tool.Artifacts, locID string) error {
	logger.Info(ctx, "Flashing device")

	for _, step := range tool.Steps(artifacts) {
		if err := f.runner.Run(ctx, step.Name, locID, step.Args...); err != nil {
			logger.ErrorKV(ctx, "Flashing step failed", "step", step.Name, "error", err)
			f.setProgress(ctx, locID, flash.FailedProgress(step.Name))

			return subprocessError(step.Name, locID, err)
		}

		f.setProgress(ctx, locID, step.Name)
	}

	f.setProgress(ctx, locID, flash.ProgressSuccess)
	logger.Info(ctx, "Device flashed")

	return nil
}

// SwitchToMaskrom reboots devices into download mode. Without locIDs the
// checked devices of the session are switched.
func (f *Flasher) SwitchToMaskrom(ctx context.Context, locIDs []string) error {
	if !f.acquire() {
		return ErrBusy
	}

	defer f.release()

	ctx = logger.WithName(ctx, "flasher")

	if f.poller != nil {
		f.poller.Pause()
		defer f.poller.Resume()
	}

	if len(locIDs) == 0 {
		for _, d := range f.store.Snapshot().Selected() {
			locIDs = append(locIDs, d.LocID)
		}
	}

	step := tool.MaskromStep()

	var failures *multierror.Error

	for _, locID := range locIDs {
		if err := f.runner.Run(ctx, step.Name, locID, step.Args...); err != nil {
			failures = multierror.Append(failures, subprocessError(step.Name, locID, err))
			f.setProgress(ctx, locID, flash.FailedProgress(step.Name))

			continue
		}

		f.setProgress(ctx, locID, step.Name)
	}

	return failures.ErrorOrNil()
}

func (f *Flasher) setProgress(ctx context.Context, locID, label string) {
	if err := f.store.SetProgress(locID, label); err != nil {
		logger.WarnKV(ctx, "Progress not recorded", "loc_id", locID, "progress", label, "error", err)
	}
}

func subprocessError(step, locID string, err error) error {
	var subErr *tool.SubprocessError
	if errors.As(err, &subErr) {
		return err
	}

	return &tool.SubprocessError{Step: step, LocID: locID, ExitCode: -1, Err: err}
}
