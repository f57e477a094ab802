package progress

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/rkflash/internal/domain/flash"
)

// TestBroadcaster_DropsWhenFull never blocks the publisher on a slow subscriber.
func TestBroadcaster_DropsWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(2)

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := range 5 {
		b.Publish(Update{RunID: string(rune('a' + i))})
	}

	require.Len(t, ch, 2)
	require.Equal(t, uint64(3), b.Dropped())

	first := <-ch
	require.Equal(t, "a", first.RunID)

	latest, ok := b.Latest()
	require.True(t, ok)
	require.Equal(t, "e", latest.RunID)
}

// TestBroadcaster_Cancel closes the channel once and stops delivery.
func TestBroadcaster_Cancel(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(0)

	_, ok := b.Latest()
	require.False(t, ok)

	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)

	b.Publish(Update{State: flash.StateDone})
	require.Zero(t, b.Dropped())
}

// TestMulti forwards to every sink and tolerates nil entries.
func TestMulti(t *testing.T) {
	t.Parallel()

	var got []flash.State

	record := SinkFunc(func(u Update) { got = append(got, u.State) })

	Multi{record, nil, record, Discard}.Publish(Update{State: flash.StateFlashing})
	require.Equal(t, []flash.State{flash.StateFlashing, flash.StateFlashing}, got)

	NewLogSink(context.Background()).Publish(Update{
		State:   flash.StateDone,
		Session: &flash.Session{Devices: []flash.Device{{LocID: "1", Progress: flash.ProgressSuccess}}},
	})
}

// TestConsoleSink prints only progress changes.
func TestConsoleSink(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer

	sink := NewConsoleSink(&out)
	session := &flash.Session{Devices: []flash.Device{{LocID: "7", Progress: "write boot"}}}

	sink.Publish(Update{Session: session})
	sink.Publish(Update{Session: session})

	session.Devices[0].Progress = flash.FailedProgress("write rootfs")
	sink.Publish(Update{Session: session, State: flash.StateDone})

	require.Equal(t,
		"device 7      write boot\ndevice 7      FAILED: write rootfs\n",
		out.String())
}
