package flash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBoardTableLookup checks sub-path selection and defaults for sparse profiles.
func TestBoardTableLookup(t *testing.T) {
	t.Parallel()

	table := DefaultBoards()

	scu, err := table.Lookup("dc11scu")
	require.NoError(t, err)
	require.Equal(t, "scu", scu.TreeDir)
	require.Equal(t, DefaultTreeDir, scu.BinaryDir)

	table["custom"] = Profile{}

	custom, err := table.Lookup("custom")
	require.NoError(t, err)
	require.Equal(t, BoardType("custom"), custom.Name)
	require.Equal(t, DefaultTreeDir, custom.TreeDir)
	require.Equal(t, DefaultReleaseOverlayDirs(), custom.OverlayDirs)

	_, err = table.Lookup("nope")
	require.ErrorIs(t, err, ErrUnknownBoard)

	require.Equal(t, []BoardType{"custom", "dc11", "dc11scu"}, table.Names())
}
