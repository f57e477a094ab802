package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/rkflash/internal/domain/flash"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.yaml"))
	s, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, s)
}

// TestFileRepository_SaveLoad keeps board, version and checked location ids.
func TestFileRepository_SaveLoad(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "session.yaml")
	repo := NewFileRepository(file)

	want := &flash.Session{
		Board:   "dc11scu",
		Version: "1.4.2",
		Devices: []flash.Device{
			{DevNo: "1", LocID: "304", Mode: "Loader", Checked: true, Progress: flash.ProgressSuccess},
			{DevNo: "2", LocID: "305", Mode: "Maskrom"},
			{DevNo: "3", LocID: "102", Checked: true},
		},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Board, got.Board)
	require.Equal(t, want.Version, got.Version)
	require.Empty(t, got.Devices)
	require.Equal(t, []string{"102", "304"}, got.Remembered)
}

// TestFileRepository_KeepsRememberedUntilEnumerated saves a selection not yet matched to devices.
func TestFileRepository_KeepsRememberedUntilEnumerated(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "session.yaml"))

	require.NoError(t, repo.Save(context.Background(), &flash.Session{
		Board:      "dc11",
		Devices:    []flash.Device{{LocID: "201", Checked: true}},
		Remembered: []string{"305", "201"},
	}))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"201", "305"}, got.Remembered)
}

// TestFileRepository_Corrupt reports decode failures.
func TestFileRepository_Corrupt(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(file, []byte("board: [unterminated"), 0o600))

	_, err := NewFileRepository(file).Load(context.Background())
	require.ErrorContains(t, err, "decode session file")
}
