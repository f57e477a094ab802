package tool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/rkflash/internal/logger"
)

// Runner executes the upgrade tool.
type Runner interface {
	// Run executes one flashing step against the device at locID.
	Run(ctx context.Context, step, locID string, args ...string) error
	// Output executes the tool unscoped and returns its standard output.
	Output(ctx context.Context, args ...string) ([]byte, error)
}

// SubprocessError reports a step whose tool invocation failed.
type SubprocessError struct {
	// Step is the progress label of the failed step.
	Step string
	// LocID is the device the step was addressed to.
	LocID string
	// ExitCode is the tool's exit status, -1 if it never ran to completion.
	ExitCode int
	// Err is the underlying failure.
	Err error
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("step %q on device %s failed (exit code %d): %v", e.Step, e.LocID, e.ExitCode, e.Err)
}

func (e *SubprocessError) Unwrap() error {
	return e.Err
}

// maxLineSize bounds a single line of tool output.
const maxLineSize = 1 << 20

// UpgradeTool runs the vendor binary at Path.
type UpgradeTool struct {
	// Path is the upgrade tool executable.
	Path string
}

// New returns an UpgradeTool for the binary at path.
func New(path string) *UpgradeTool {
	return &UpgradeTool{Path: path}
}

// Run executes `<tool> -s <locID> args...` and streams its output to the log.
func (u *UpgradeTool) Run(ctx context.Context, step, locID string, args ...string) error {
	ctx = logger.WithKV(ctx, "step", step, "loc_id", locID)

	fullArgs := append([]string{"-s", locID}, args...)
	cmd := exec.CommandContext(ctx, u.Path, fullArgs...) //nolint:gosec // The tool path is operator configuration.

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SubprocessError{Step: step, LocID: locID, ExitCode: -1, Err: err}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SubprocessError{Step: step, LocID: locID, ExitCode: -1, Err: err}
	}

	logger.DebugKV(ctx, "Starting upgrade tool", "args", fullArgs)

	if err = cmd.Start(); err != nil {
		return &SubprocessError{Step: step, LocID: locID, ExitCode: -1, Err: err}
	}

	var streams errgroup.Group

	streams.Go(func() error {
		return forwardLines(stdout, func(line string) { logger.InfoKV(ctx, line, "stream", "stdout") })
	})
	streams.Go(func() error {
		return forwardLines(stderr, func(line string) { logger.WarnKV(ctx, line, "stream", "stderr") })
	})

	// Pipes must be drained before Wait closes them.
	streamErr := streams.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		return &SubprocessError{Step: step, LocID: locID, ExitCode: exitCode(waitErr), Err: waitErr}
	}

	// The exit status decides the step; unreadable output is only logged.
	if streamErr != nil {
		logger.WarnKV(ctx, "Upgrade tool output not fully logged", "error", streamErr)
	}

	return nil
}

// Output executes `<tool> args...` and returns its standard output.
func (u *UpgradeTool) Output(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, u.Path, args...) //nolint:gosec // The tool path is operator configuration.

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%w: %s", err, exitErr.Stderr)
		}

		return out, err
	}

	return out, nil
}

// forwardLines emits every non-empty line of r. After a scan error the rest
// of r is discarded so the writer never blocks on a full pipe.
func forwardLines(r io.Reader, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			emit(line)
		}
	}

	err := scanner.Err()
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}

	return err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
