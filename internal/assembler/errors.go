package assembler

import (
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/rkflash/internal/fsutil"
)

// Mount operations reported by MountError.
const (
	OpMount   = "mount"
	OpUnmount = "unmount"
)

// NotFoundError is returned when the release archive of a version is missing.
type NotFoundError struct {
	Version string
	Path    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("release %s not found at %s", e.Version, e.Path)
}

// Unwrap lets callers match the error with os.ErrNotExist.
func (e *NotFoundError) Unwrap() error {
	return os.ErrNotExist
}

// MountError reports a failed mount or unmount of the workspace image.
type MountError struct {
	Op     string
	Target string
	Err    error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// IOError reports a failed copy, extraction or write.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ioError attaches path to err, preferring the path fsutil already recorded.
func ioError(path string, err error) error {
	var pathErr *fsutil.PathError
	if errors.As(err, &pathErr) {
		return &IOError{Path: pathErr.Path, Err: pathErr.Err}
	}

	return &IOError{Path: path, Err: err}
}
