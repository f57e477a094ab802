// Package mount attaches filesystem images to directories.
package mount

import (
	"context"
	"errors"
)

// Mounter mounts a filesystem image file onto a directory and detaches it.
// Unmount must be safe to call on a directory that is not mounted.
type Mounter interface {
	Mount(ctx context.Context, image, dir string) error
	Unmount(ctx context.Context, dir string) error
}

// ErrUnsupported is returned on platforms without loop mounts.
var ErrUnsupported = errors.New("loop mounts are not supported on this platform")

// Loop mounts images through the kernel loop driver.
type Loop struct {
	// MountCommand is the mount binary; "mount" when empty.
	MountCommand string
}

// NewLoop returns a Loop mounter using the system mount binary.
func NewLoop() *Loop {
	return &Loop{MountCommand: "mount"}
}

func (l *Loop) mountCommand() string {
	if l == nil || l.MountCommand == "" {
		return "mount"
	}

	return l.MountCommand
}
