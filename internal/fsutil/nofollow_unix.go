//go:build unix

package fsutil

import "golang.org/x/sys/unix"

const openNoFollow = unix.O_NOFOLLOW
