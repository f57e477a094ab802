package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"

	"github.com/oshokin/rkflash/internal/fsutil"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

var (
	// ErrUnsafePath is returned for entries escaping the destination directory.
	ErrUnsafePath = errors.New("archive entry escapes destination")
	// ErrUnsupportedFormat is returned for tarballs with an unknown compression suffix.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// ExtractZip unpacks the zip archive src into dst.
func ExtractZip(src, dst string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", src, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		if err = extractZipEntry(file, dst); err != nil {
			return err
		}
	}

	return nil
}

func extractZipEntry(file *zip.File, dst string) error {
	target, err := safeJoin(dst, file.Name)
	if err != nil {
		return err
	}

	mode := file.Mode()

	if mode.IsDir() {
		return makeDir(dst, target)
	}

	if err = makeDir(dst, filepath.Dir(target)); err != nil {
		return err
	}

	if mode&fs.ModeSymlink != 0 {
		return extractZipSymlink(file, target)
	}

	entry, err := file.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", file.Name, err)
	}

	defer func() {
		_ = entry.Close()
	}()

	return writeFile(target, entry, permOrDefault(mode))
}

func extractZipSymlink(file *zip.File, target string) error {
	entry, err := file.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", file.Name, err)
	}

	defer func() {
		_ = entry.Close()
	}()

	linkTarget, err := io.ReadAll(entry)
	if err != nil {
		return err
	}

	_ = os.Remove(target)

	return os.Symlink(string(linkTarget), target)
}

// ExtractTar unpacks a .tar.gz, .tgz, .tar.xz or plain .tar file into dst.
func ExtractTar(src, dst string) error {
	file, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open tarball %s: %w", src, err)
	}

	defer func() {
		_ = file.Close()
	}()

	stream, closeStream, err := decompress(src, file)
	if err != nil {
		return err
	}

	defer closeStream()

	reader := tar.NewReader(stream)

	for {
		header, nextErr := reader.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return fmt.Errorf("read tarball %s: %w", src, nextErr)
		}

		if err = extractTarEntry(reader, header, dst); err != nil {
			return err
		}
	}
}

func decompress(name string, r io.Reader) (io.Reader, func(), error) {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip %s: %w", name, err)
		}

		return gz, func() { _ = gz.Close() }, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz %s: %w", name, err)
		}

		return xzReader, func() {}, nil
	case strings.HasSuffix(lower, ".tar"):
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

func extractTarEntry(reader *tar.Reader, header *tar.Header, dst string) error {
	target, err := safeJoin(dst, header.Name)
	if err != nil {
		return err
	}

	mode := fs.FileMode(header.Mode).Perm() //nolint:gosec // Tar modes fit in 32 bits.

	switch header.Typeflag {
	case tar.TypeDir:
		return makeDir(dst, target)
	case tar.TypeReg:
		if err = makeDir(dst, filepath.Dir(target)); err != nil {
			return err
		}

		return writeFile(target, reader, permOrDefault(mode))
	case tar.TypeSymlink:
		if err = makeDir(dst, filepath.Dir(target)); err != nil {
			return err
		}

		_ = os.Remove(target)

		return os.Symlink(header.Linkname, target)
	default:
		// Device nodes, fifos and hard links are not part of overlay trees.
		return nil
	}
}

// makeDir creates dir below dst. Archives may carry symlinks pointing
// anywhere; a directory reached through one of them is refused so later
// entries cannot land outside dst.
func makeDir(dst, dir string) error {
	rel, err := filepath.Rel(dst, dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsafePath, dir)
	}

	if _, err = fsutil.Lookup(dst, rel); err != nil {
		if errors.Is(err, fsutil.ErrLinkedPath) || errors.Is(err, fsutil.ErrOutsideRoot) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, rel)
		}

		return err
	}

	return os.MkdirAll(dir, dirMode)
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	out, err := fsutil.CreateFile(target, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, r); err != nil {
		_ = out.Close()

		return fmt.Errorf("write %s: %w", target, err)
	}

	// OpenFile honours the umask; restore the archived mode exactly.
	if err = out.Chmod(mode); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

func permOrDefault(mode fs.FileMode) fs.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm
	}

	return fileMode
}

// safeJoin resolves name inside dst and rejects traversal.
func safeJoin(dst, name string) (string, error) {
	target := filepath.Join(dst, name) //nolint:gosec // Checked right below.

	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	return target, nil
}
