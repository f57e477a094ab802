package flash

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// BoardType names a supported board, e.g. "dc11scu".
type BoardType string

// Profile describes where a board's files live inside a release archive
// and which directories of its filesystem tree are overlaid onto the image.
type Profile struct {
	// Name is the board identifier written into the image.
	Name BoardType `yaml:"-" json:"name"`
	// TreeDir is the release sub-directory holding filesystem.tar.gz.
	TreeDir string `yaml:"tree_dir" json:"tree_dir"`
	// BinaryDir is the release sub-directory holding <board>.bin.
	BinaryDir string `yaml:"binary_dir" json:"binary_dir"`
	// OverlayDirs are the top-level directories copied from the release tree.
	OverlayDirs []string `yaml:"overlay_dirs" json:"overlay_dirs"`
}

// BoardTable maps board names to their profiles.
type BoardTable map[BoardType]Profile

const (
	// DefaultTreeDir is the release sub-directory used by most boards.
	DefaultTreeDir = "board"
)

// ErrUnknownBoard is returned for board names outside the table.
var ErrUnknownBoard = errors.New("unknown board type")

// DefaultReleaseOverlayDirs are overlaid from the release filesystem tree.
func DefaultReleaseOverlayDirs() []string {
	return []string{"etc", "mnt", "root", "usr"}
}

// DefaultBoards returns the built-in board table.
func DefaultBoards() BoardTable {
	return BoardTable{
		"dc11": {
			Name:        "dc11",
			TreeDir:     DefaultTreeDir,
			BinaryDir:   DefaultTreeDir,
			OverlayDirs: DefaultReleaseOverlayDirs(),
		},
		"dc11scu": {
			Name:        "dc11scu",
			TreeDir:     "scu",
			BinaryDir:   DefaultTreeDir,
			OverlayDirs: DefaultReleaseOverlayDirs(),
		},
	}
}

// Lookup returns the profile for the board with empty fields filled in.
func (t BoardTable) Lookup(board BoardType) (Profile, error) {
	profile, ok := t[board]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownBoard, board)
	}

	profile.Name = board

	if profile.TreeDir == "" {
		profile.TreeDir = DefaultTreeDir
	}

	if profile.BinaryDir == "" {
		profile.BinaryDir = DefaultTreeDir
	}

	if len(profile.OverlayDirs) == 0 {
		profile.OverlayDirs = DefaultReleaseOverlayDirs()
	}

	return profile, nil
}

// Names returns the sorted board names.
func (t BoardTable) Names() []BoardType {
	return slices.Sorted(maps.Keys(t))
}
