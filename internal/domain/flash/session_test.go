package flash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSessionClone verifies that Clone deep-copies the device list and handles nil.
func TestSessionClone(t *testing.T) {
	t.Parallel()
	require.Nil(t, (*Session)(nil).Clone())

	s := &Session{
		Board:   "dc11",
		Version: "v1.2.0",
		Devices: []Device{{LocID: "7", Checked: true, Progress: ProgressReady}},
	}

	c := s.Clone()
	require.Equal(t, s, c)

	c.Devices[0].Checked = false
	require.True(t, s.Devices[0].Checked)
}

// TestSessionSelectedAndDevice checks filtering by checked flag and lookup by loc_id.
func TestSessionSelectedAndDevice(t *testing.T) {
	t.Parallel()

	s := &Session{Devices: []Device{
		{LocID: "1", Checked: true},
		{LocID: "2"},
		{LocID: "3", Checked: true},
	}}

	selected := s.Selected()
	require.Len(t, selected, 2)
	require.Equal(t, "1", selected[0].LocID)
	require.Equal(t, "3", selected[1].LocID)

	require.NotNil(t, s.Device("2"))
	require.Nil(t, s.Device("9"))

	s.Device("2").Progress = "write boot"
	require.Equal(t, "write boot", s.Devices[1].Progress)
}

// TestStateRunning asserts which states count as an active run.
func TestStateRunning(t *testing.T) {
	t.Parallel()

	require.True(t, StateAssembling.Running())
	require.True(t, StateFlashing.Running())
	require.False(t, StateIdle.Running())
	require.False(t, StateDone.Running())
	require.False(t, StateFailed.Running())
	require.Equal(t, "FAILED: write uboot", FailedProgress("write uboot"))
}
