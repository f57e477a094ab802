// Package assembler builds the per-version, per-board root filesystem image.
//
// The base image from the artifacts directory is copied into a private
// workspace, loop-mounted, overlaid with the common update package and the
// release tree of the requested version, stamped with the board name and
// finally published under a deterministic path. A published image is never
// rebuilt.
package assembler
