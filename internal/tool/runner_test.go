package tool

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
)

// fakeTool writes a shell script standing in for the vendor binary.
func fakeTool(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "upgrade_tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)) //nolint:gosec // Test helper.

	return path
}

// TestUpgradeTool_RunSuccess passes the device selector first and drains both streams.
func TestUpgradeTool_RunSuccess(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	path := fakeTool(t, `echo "$@" > `+argsFile+`
i=0
while [ $i -lt 2000 ]; do echo "stdout line $i"; echo "stderr line $i" >&2; i=$((i+1)); done
exit 0
`)

	err := New(path).Run(context.Background(), StepWriteBoot, "7", "di", "-b", "/rockdev/boot.img")
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "-s 7 di -b /rockdev/boot.img", strings.TrimSpace(string(data)))
}

// TestUpgradeTool_RunFailure reports the step, device and exit code.
func TestUpgradeTool_RunFailure(t *testing.T) {
	path := fakeTool(t, "echo boom >&2\nexit 3\n")

	err := New(path).Run(context.Background(), StepWriteUBoot, "12", "di", "-uboot", "uboot.img")

	var subErr *SubprocessError

	require.ErrorAs(t, err, &subErr)
	require.Equal(t, StepWriteUBoot, subErr.Step)
	require.Equal(t, "12", subErr.LocID)
	require.Equal(t, 3, subErr.ExitCode)
}

// TestUpgradeTool_RunSpawnFailure maps a missing binary to a SubprocessError.
func TestUpgradeTool_RunSpawnFailure(t *testing.T) {
	t.Parallel()

	err := New(filepath.Join(t.TempDir(), "missing")).Run(context.Background(), StepResetDevice, "1", "rd")

	var subErr *SubprocessError

	require.ErrorAs(t, err, &subErr)
	require.Equal(t, -1, subErr.ExitCode)
}

// TestUpgradeTool_Output returns stdout of an unscoped call.
func TestUpgradeTool_Output(t *testing.T) {
	path := fakeTool(t, `printf 'DevNo=1\tLocationID=%s\n' "$1"`)

	out, err := New(path).Output(context.Background(), ListDevicesArgs()...)
	require.NoError(t, err)
	require.Equal(t, "DevNo=1\tLocationID=ld\n", string(out))

	_, err = New(fakeTool(t, "echo bad >&2; exit 1")).Output(context.Background(), "ld")
	require.ErrorContains(t, err, "bad")
}

// TestSteps keeps the fixed order and arguments of the sequence.
func TestSteps(t *testing.T) {
	t.Parallel()

	steps := Steps(Artifacts{
		Loader: "loader.bin", Parameter: "parameter.txt", UBoot: "uboot.img", Boot: "boot.img", RootFS: "rootfs.img",
	})

	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}

	require.Equal(t, []string{
		StepUpgradeLoader, StepWriteParameter, StepWriteUBoot, StepWriteBoot, StepWriteRootFS, StepResetDevice,
	}, names)
	require.Equal(t, []string{"ul", "loader.bin", "-noreset"}, steps[0].Args)
	require.Equal(t, []string{"di", "-rootfs", "rootfs.img"}, steps[4].Args)
	require.Equal(t, []string{"rd"}, steps[5].Args)
	require.Equal(t, []string{"rd", "3"}, MaskromStep().Args)
}

type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.name }

// TestCheckProcesses detects another tool instance and ignores the current process.
func TestCheckProcesses(t *testing.T) {
	t.Parallel()

	procs := []ps.Process{fakeProcess{pid: 10, name: "bash"}, fakeProcess{pid: 11, name: "upgrade_tool"}}

	require.ErrorIs(t, checkProcesses(procs, "upgrade_tool", 1), ErrToolBusy)
	require.NoError(t, checkProcesses(procs, "upgrade_tool", 11))
	require.NoError(t, checkProcesses(procs, "rkdeveloptool", 1))
	require.NoError(t, EnsureNotRunning(filepath.Join(t.TempDir(), "no-such-flasher-binary")))
}

// TestForwardLines_DrainsAfterLongLine keeps reading past a line over the limit.
func TestForwardLines_DrainsAfterLongLine(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()

	written := make(chan error, 1)

	go func() {
		_, err := io.WriteString(w, "first\n"+strings.Repeat("a", maxLineSize+1)+"\n"+strings.Repeat("tail\n", 1000))
		_ = w.Close()
		written <- err
	}()

	var lines []string

	err := forwardLines(r, func(line string) { lines = append(lines, line) })
	require.ErrorIs(t, err, bufio.ErrTooLong)
	require.Equal(t, []string{"first"}, lines)
	require.NoError(t, <-written)
}

// TestUpgradeTool_RunLongOutputLine finishes when the tool prints a line over the limit.
func TestUpgradeTool_RunLongOutputLine(t *testing.T) {
	path := fakeTool(t, "i=0\nwhile [ $i -lt 20 ]; do printf '%065536d' 0; i=$((i+1)); done\necho\necho done\n")

	require.NoError(t, New(path).Run(context.Background(), StepWriteBoot, "7", "di", "-b", "boot.img"))
}
