// Package catalog discovers packaged release versions on disk.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// ArchiveExt marks a packaged release archive.
const ArchiveExt = ".zip"

// ListVersions scans dir non-recursively and returns the base names of
// release archives. A missing directory yields an empty list.
// Semver-looking names come first, newest first, the rest follow in
// descending lexical order.
func ListVersions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("read release dir %s: %w", dir, err)
	}

	versions := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ArchiveExt) {
			continue
		}

		versions = append(versions, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
	}

	sortVersions(versions)

	return versions, nil
}

// ArchivePath returns where the archive of version is expected.
func ArchivePath(dir, version string) string {
	return filepath.Join(dir, version+ArchiveExt)
}

// Has reports whether the archive of version exists as a regular file.
func Has(dir, version string) bool {
	info, err := os.Stat(ArchivePath(dir, version))

	return err == nil && info.Mode().IsRegular()
}

func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, vj := canonical(versions[i]), canonical(versions[j])

		switch iv, jv := semver.IsValid(vi), semver.IsValid(vj); {
		case iv && jv:
			if c := semver.Compare(vi, vj); c != 0 {
				return c > 0
			}

			return versions[i] > versions[j]
		case iv != jv:
			return iv
		default:
			return versions[i] > versions[j]
		}
	})
}

func canonical(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}

	return "v" + version
}
