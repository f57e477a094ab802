//go:build linux

package mount

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoop_UnmountNotMounted treats plain or missing directories as already detached.
func TestLoop_UnmountNotMounted(t *testing.T) {
	t.Parallel()

	l := NewLoop()
	dir := t.TempDir()

	err := l.Unmount(context.Background(), dir)
	if err != nil {
		// Unprivileged runs get EPERM before the kernel checks the mount table.
		require.ErrorContains(t, err, "umount")

		return
	}

	require.NoError(t, l.Unmount(context.Background(), filepath.Join(dir, "absent")))
}

// TestLoop_MountFailure surfaces the mount binary's failure.
func TestLoop_MountFailure(t *testing.T) {
	t.Parallel()

	l := &Loop{MountCommand: "false"}

	err := l.Mount(context.Background(), "image.img", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "mount -o loop image.img")
}
