package tool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"
)

// ErrToolBusy is returned when another upgrade tool process is alive.
var ErrToolBusy = errors.New("upgrade tool is already running")

// EnsureNotRunning fails with ErrToolBusy if a process whose executable
// name matches the base name of toolPath is running. The current process
// is ignored.
func EnsureNotRunning(toolPath string) error {
	processes, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	return checkProcesses(processes, filepath.Base(toolPath), os.Getpid())
}

func checkProcesses(processes []ps.Process, name string, self int) error {
	for _, process := range processes {
		if process.Pid() == self {
			continue
		}

		if process.Executable() == name {
			return fmt.Errorf("%w: pid %d", ErrToolBusy, process.Pid())
		}
	}

	return nil
}
