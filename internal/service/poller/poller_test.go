package poller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/registry"
	repo "github.com/oshokin/rkflash/internal/repository/session"
	"github.com/oshokin/rkflash/internal/session"
)

type fakeRegistry struct {
	mu      sync.Mutex
	devices []flash.Device
	err     error
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeRegistry) Enumerate(context.Context) ([]flash.Device, error) {
	f.calls.Add(1)

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return append([]flash.Device(nil), f.devices...), nil
}

func (f *fakeRegistry) Reconcile(prev, next []flash.Device) []flash.Device {
	return registry.Reconcile(prev, next, false)
}

func (f *fakeRegistry) set(devices []flash.Device, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.devices = devices
	f.err = err
}

func newStore(t *testing.T) *session.Store {
	t.Helper()

	store, err := session.New(context.Background(), nil, nil)
	require.NoError(t, err)

	return store
}

// TestRefreshNow_KeepsSelection reconciles against the current session.
func TestRefreshNow_KeepsSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := &fakeRegistry{}
	store := newStore(t)
	p := New(reg, store, 0)

	reg.set([]flash.Device{{DevNo: "1", LocID: "11"}, {DevNo: "2", LocID: "12"}}, nil)
	require.NoError(t, p.RefreshNow(ctx))

	_, err := store.SetChecked(ctx, "12", true)
	require.NoError(t, err)

	reg.set([]flash.Device{{DevNo: "1", LocID: "12"}, {DevNo: "2", LocID: "13"}}, nil)
	require.NoError(t, p.RefreshNow(ctx))

	devices := store.Snapshot().Devices
	require.Len(t, devices, 2)
	require.Equal(t, "12", devices[0].LocID)
	require.True(t, devices[0].Checked)
	require.Equal(t, "13", devices[1].LocID)
	require.False(t, devices[1].Checked)
	require.Equal(t, flash.ProgressReady, devices[1].Progress)
}

// TestRefreshNow_EnumerationFailureKeepsDevices leaves the last list in place.
func TestRefreshNow_EnumerationFailureKeepsDevices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := &fakeRegistry{}
	store := newStore(t)
	p := New(reg, store, 0)

	reg.set([]flash.Device{{DevNo: "1", LocID: "11"}}, nil)
	require.NoError(t, p.RefreshNow(ctx))

	reg.set(nil, &registry.EnumerationError{Err: errors.New("exit status 1")})

	var enumErr *registry.EnumerationError
	require.ErrorAs(t, p.RefreshNow(ctx), &enumErr)
	require.Len(t, store.Snapshot().Devices, 1)
}

// TestRefreshNow_RestoresRememberedSelection checks saved devices only once they are enumerated.
func TestRefreshNow_RestoresRememberedSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repository := repo.NewFileRepository(filepath.Join(t.TempDir(), "session.yaml"))
	require.NoError(t, repository.Save(ctx, &flash.Session{
		Board:   "dc11",
		Version: "1.0.0",
		Devices: []flash.Device{{LocID: "12", Checked: true}, {LocID: "14", Checked: true}},
	}))

	store, err := session.New(ctx, nil, repository)
	require.NoError(t, err)
	require.Empty(t, store.Snapshot().Devices)

	reg := &fakeRegistry{}
	p := New(reg, store, 0)

	reg.set(nil, &registry.EnumerationError{Err: errors.New("exit status 1")})
	require.Error(t, p.RefreshNow(ctx))
	require.Empty(t, store.Snapshot().Devices)
	require.Empty(t, store.Snapshot().Selected())

	reg.set([]flash.Device{{DevNo: "1", LocID: "11"}, {DevNo: "2", LocID: "12"}}, nil)
	require.NoError(t, p.RefreshNow(ctx))

	snapshot := store.Snapshot()
	require.Equal(t, []flash.Device{{DevNo: "2", LocID: "12", Checked: true, Progress: flash.ProgressReady}}, snapshot.Selected())
	require.Empty(t, snapshot.Remembered)

	// A device plugged into a remembered port later follows the new-device default.
	reg.set([]flash.Device{{DevNo: "1", LocID: "11"}, {DevNo: "2", LocID: "12"}, {DevNo: "3", LocID: "14"}}, nil)
	require.NoError(t, p.RefreshNow(ctx))

	device := store.Snapshot().Device("14")
	require.NotNil(t, device)
	require.False(t, device.Checked)
}

// TestPause_SkipsRefreshes does not touch the registry while paused.
func TestPause_SkipsRefreshes(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	p := New(reg, newStore(t), 0)

	p.Pause()
	require.True(t, p.Paused())
	require.ErrorIs(t, p.RefreshNow(context.Background()), ErrPaused)
	require.Zero(t, reg.calls.Load())

	p.Resume()
	require.False(t, p.Paused())
	require.NoError(t, p.RefreshNow(context.Background()))
	require.Equal(t, int32(1), reg.calls.Load())
}

// TestPause_WaitsForInflightRefresh returns only after the refresh completes.
func TestPause_WaitsForInflightRefresh(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{block: make(chan struct{})}
	reg.set([]flash.Device{{DevNo: "1", LocID: "11"}}, nil)

	store := newStore(t)
	p := New(reg, store, 0)

	done := make(chan error, 1)

	go func() { done <- p.RefreshNow(context.Background()) }()

	require.Eventually(t, func() bool { return reg.calls.Load() == 1 }, time.Second, time.Millisecond)

	paused := make(chan struct{})

	go func() {
		p.Pause()
		close(paused)
	}()

	select {
	case <-paused:
		t.Fatal("Pause returned while a refresh was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(reg.block)

	require.NoError(t, <-done)
	<-paused
	require.Len(t, store.Snapshot().Devices, 1)
}

// TestRun_PollsUntilCanceled refreshes immediately and then on every tick.
func TestRun_PollsUntilCanceled(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.set([]flash.Device{{DevNo: "1", LocID: "11"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p := New(reg, newStore(t), 5*time.Millisecond)

	done := make(chan error, 1)

	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return reg.calls.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
