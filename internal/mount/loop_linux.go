//go:build linux

package mount

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/oshokin/rkflash/internal/logger"
)

// Mount runs `mount -o loop image dir`.
func (l *Loop) Mount(ctx context.Context, image, dir string) error {
	cmd := exec.CommandContext(ctx, l.mountCommand(), "-o", "loop", image, dir) //nolint:gosec // Paths come from the workspace.

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount -o loop %s %s: %w: %s", image, dir, err, strings.TrimSpace(string(output)))
	}

	logger.DebugKV(ctx, "Image mounted", "image", image, "dir", dir)

	return nil
}

// Unmount detaches dir. A directory that is not a mount point, or does
// not exist, is not an error.
func (l *Loop) Unmount(ctx context.Context, dir string) error {
	err := unix.Unmount(dir, 0)

	switch {
	case err == nil:
		logger.DebugKV(ctx, "Image unmounted", "dir", dir)

		return nil
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOENT):
		return nil
	default:
		return fmt.Errorf("umount %s: %w", dir, err)
	}
}
