// Package fsutil holds the file tree operations used to customize a
// mounted image: recursive copy, directory overlay and permission
// normalization.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// PathError reports the path an operation failed on.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Exists reports whether path exists. Stat errors other than "not exist"
// count as existing so callers do not silently skip unreadable paths.
func Exists(path string) bool {
	_, err := os.Lstat(path)

	return !errors.Is(err, os.ErrNotExist)
}

var (
	// ErrLinkedPath is returned when a path below a root runs through a
	// symbolic link.
	ErrLinkedPath = errors.New("path runs through a symbolic link")
	// ErrOutsideRoot is returned for relative paths climbing above their root.
	ErrOutsideRoot = errors.New("path leaves its root")
)

// CopyFile copies a regular file, keeping its permission bits. A symlink
// at dst is replaced, never followed.
func CopyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return &PathError{Path: src, Err: err}
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return &PathError{Path: src, Err: err}
	}

	out, err := CreateFile(dst, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return &PathError{Path: dst, Err: err}
	}

	// Chmod through the handle: the umask applied on create.
	if err = out.Chmod(info.Mode().Perm()); err != nil {
		_ = out.Close()

		return &PathError{Path: dst, Err: err}
	}

	if err = out.Close(); err != nil {
		return &PathError{Path: dst, Err: err}
	}

	return nil
}

// CreateFile opens path for writing, truncating a regular file already
// there. A symlink or special file in its place is removed first and the
// open refuses to follow links, so the write always lands at path itself.
// The parent directory must already be trusted.
func CreateFile(path string, perm fs.FileMode) (*os.File, error) {
	info, err := os.Lstat(path)

	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, &PathError{Path: path, Err: err}
	case !info.Mode().IsRegular() && !info.IsDir():
		if err = os.Remove(path); err != nil {
			return nil, &PathError{Path: path, Err: err}
		}
	}

	out, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|openNoFollow, perm)
	if err != nil {
		return nil, &PathError{Path: path, Err: err}
	}

	return out, nil
}

// EnsureDir makes every component of rel below root a real directory and
// returns the joined path. Symlinks and files standing where a directory
// belongs are replaced, so nothing created below the result can leave root.
func EnsureDir(root, rel string, perm fs.FileMode) (string, error) {
	if !filepath.IsLocal(rel) && filepath.Clean(rel) != "." {
		return "", &PathError{Path: rel, Err: ErrOutsideRoot}
	}

	current := root

	for _, part := range splitPath(rel) {
		current = filepath.Join(current, part)

		if err := ensureDir(current, perm); err != nil {
			return "", err
		}
	}

	return current, nil
}

// Lookup joins rel onto root and fails with ErrLinkedPath when an existing
// component of rel is a symbolic link. Missing components are fine.
func Lookup(root, rel string) (string, error) {
	if !filepath.IsLocal(rel) && filepath.Clean(rel) != "." {
		return "", &PathError{Path: rel, Err: ErrOutsideRoot}
	}

	current := root

	for _, part := range splitPath(rel) {
		current = filepath.Join(current, part)

		info, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return filepath.Join(root, rel), nil
		}

		if err != nil {
			return "", &PathError{Path: current, Err: err}
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			return "", &PathError{Path: current, Err: ErrLinkedPath}
		}
	}

	return current, nil
}

func splitPath(rel string) []string {
	rel = filepath.Clean(rel)
	if rel == "." {
		return nil
	}

	return strings.Split(rel, string(filepath.Separator))
}

func ensureDir(path string, perm fs.FileMode) error {
	info, err := os.Lstat(path)

	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		if err = os.Remove(path); err != nil {
			return &PathError{Path: path, Err: err}
		}
	case !errors.Is(err, os.ErrNotExist):
		return &PathError{Path: path, Err: err}
	}

	if err = os.Mkdir(path, perm); err != nil {
		return &PathError{Path: path, Err: err}
	}

	return nil
}

// CopyTree copies src into dst file by file, creating directories as needed.
// Files already in dst and not present in src are left alone. Symlinks
// found in dst where src has a directory or a file are replaced rather than
// followed. The parent of dst must already be trusted.
func CopyTree(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &PathError{Path: dst, Err: err}
	}

	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &PathError{Path: path, Err: walkErr}
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &PathError{Path: path, Err: err}
		}

		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			info, infoErr := entry.Info()
			if infoErr != nil {
				return &PathError{Path: path, Err: infoErr}
			}

			return ensureDir(target, info.Mode().Perm()|0o700)
		case entry.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target)
		case entry.Type().IsRegular():
			return CopyFile(path, target)
		default:
			return nil
		}
	})
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return &PathError{Path: src, Err: err}
	}

	if err = os.RemoveAll(dst); err != nil {
		return &PathError{Path: dst, Err: err}
	}

	if err = os.Symlink(link, dst); err != nil {
		return &PathError{Path: dst, Err: err}
	}

	return nil
}

// Overlay copies each of dirs from srcRoot onto dstRoot. Directories
// missing in srcRoot, or present only as a link, are skipped and reported
// in the returned slice.
func Overlay(srcRoot, dstRoot string, dirs []string) (skipped []string, err error) {
	for _, dir := range dirs {
		src := filepath.Join(srcRoot, dir)

		info, statErr := os.Lstat(src)
		if errors.Is(statErr, os.ErrNotExist) {
			skipped = append(skipped, dir)

			continue
		}

		if statErr != nil {
			return skipped, &PathError{Path: src, Err: statErr}
		}

		if !info.IsDir() {
			skipped = append(skipped, dir)

			continue
		}

		dst, dirErr := EnsureDir(dstRoot, dir, info.Mode().Perm()|0o700)
		if dirErr != nil {
			return skipped, dirErr
		}

		if err = CopyTree(src, dst); err != nil {
			return skipped, err
		}
	}

	return skipped, nil
}

// ForceMode sets fileMode on every file and dirMode on every directory
// under root, root included. Children are changed before their parents so
// restrictive directory modes never block the walk. Symlinks are skipped.
func ForceMode(root string, fileMode, dirMode fs.FileMode) error {
	type item struct {
		path string
		dir  bool
	}

	var items []item

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &PathError{Path: path, Err: walkErr}
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		items = append(items, item{path: path, dir: entry.IsDir()})

		return nil
	})
	if err != nil {
		return err
	}

	for _, it := range slices.Backward(items) {
		mode := fileMode
		if it.dir {
			mode = dirMode
		}

		if err = os.Chmod(it.path, mode); err != nil {
			return &PathError{Path: it.path, Err: err}
		}
	}

	return nil
}
