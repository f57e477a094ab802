//go:build !linux

package mount

import "context"

// Mount is unavailable outside Linux.
func (l *Loop) Mount(context.Context, string, string) error {
	return ErrUnsupported
}

// Unmount is a no-op outside Linux since nothing could have been mounted.
func (l *Loop) Unmount(context.Context, string) error {
	return nil
}
