package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/progress"
	repo "github.com/oshokin/rkflash/internal/repository/session"
)

type recorder struct {
	mu      sync.Mutex
	updates []progress.Update
}

func (r *recorder) Publish(u progress.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updates = append(r.updates, u)
}

func (r *recorder) last() progress.Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updates[len(r.updates)-1]
}

type failingRepo struct{}

func (failingRepo) Load(context.Context) (*flash.Session, error) { return nil, repo.ErrNotFound }

func (failingRepo) Save(context.Context, *flash.Session) error { return errors.New("disk full") }

func devices() []flash.Device {
	return []flash.Device{
		{DevNo: "1", LocID: "101", Progress: flash.ProgressReady},
		{DevNo: "2", LocID: "102", Progress: flash.ProgressReady},
	}
}

// TestStore_PublishesSnapshots sends a copy of the session on every change.
func TestStore_PublishesSnapshots(t *testing.T) {
	t.Parallel()

	rec := &recorder{}

	store, err := New(context.Background(), rec, nil)
	require.NoError(t, err)

	store.ReplaceDevices(devices())
	require.NoError(t, store.SetProgress("102", "write boot"))

	last := rec.last()
	require.Equal(t, flash.StateIdle, last.State)
	require.Equal(t, "write boot", last.Session.Devices[1].Progress)

	last.Session.Devices[1].Progress = "mutated"
	require.Equal(t, "write boot", store.Snapshot().Devices[1].Progress)

	require.ErrorIs(t, store.SetProgress("999", "x"), ErrUnknownDevice)
	require.Len(t, rec.updates, 2)
}

// TestStore_OperatorChangesPersist saves selection and restores it in a new store.
func TestStore_OperatorChangesPersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repository := repo.NewFileRepository(filepath.Join(t.TempDir(), "session.yaml"))

	store, err := New(ctx, nil, repository)
	require.NoError(t, err)

	store.ReplaceDevices(devices())

	_, err = store.Select(ctx, "dc11", "1.0.0")
	require.NoError(t, err)

	session, err := store.SetChecked(ctx, "102", true)
	require.NoError(t, err)
	require.True(t, session.Devices[1].Checked)

	_, err = store.SetChecked(ctx, "404", true)
	require.ErrorIs(t, err, ErrUnknownDevice)

	restored, err := New(ctx, nil, repository)
	require.NoError(t, err)

	snapshot := restored.Snapshot()
	require.Equal(t, flash.BoardType("dc11"), snapshot.Board)
	require.Equal(t, "1.0.0", snapshot.Version)
	require.Empty(t, snapshot.Devices)
	require.Empty(t, snapshot.Selected())
	require.Equal(t, []string{"102"}, snapshot.Remembered)
}

// TestStore_RejectsOperatorChangesDuringRun keeps the session owned by the run.
func TestStore_RejectsOperatorChangesDuringRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}

	store, err := New(ctx, rec, nil)
	require.NoError(t, err)

	store.ReplaceDevices(devices())

	_, err = store.BeginRun("run-1", flash.StateAssembling)
	require.NoError(t, err)

	_, err = store.BeginRun("run-2", flash.StateAssembling)
	require.ErrorIs(t, err, ErrRunInProgress)

	_, err = store.SetChecked(ctx, "101", true)
	require.ErrorIs(t, err, ErrRunInProgress)

	_, err = store.Select(ctx, "dc11scu", "")
	require.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, store.SetProgress("101", "upgrade loader"))

	store.SetState(flash.StateFailed, errors.New("mount failed"))

	state, runID := store.State()
	require.Equal(t, flash.StateFailed, state)
	require.Equal(t, "run-1", runID)
	require.Equal(t, "mount failed", rec.last().Error)

	_, err = store.SetAllChecked(ctx, true)
	require.NoError(t, err)
	require.Len(t, store.Snapshot().Selected(), 2)
}

// TestStore_PersistFailure surfaces repository errors.
func TestStore_PersistFailure(t *testing.T) {
	t.Parallel()

	store, err := New(context.Background(), nil, failingRepo{})
	require.NoError(t, err)

	_, err = store.Select(context.Background(), "dc11", "1.0.0")
	require.ErrorContains(t, err, "persist session")
}
