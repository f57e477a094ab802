package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/progress"
	repo "github.com/oshokin/rkflash/internal/repository/session"
)

var (
	// ErrUnknownDevice is returned for a location id not in the session.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrRunInProgress is returned for operator changes during a flash run.
	ErrRunInProgress = errors.New("flash run in progress")
)

// Store guards the session and the orchestrator state.
type Store struct {
	// repo persists operator choices; nil disables persistence.
	repo repo.Repository
	// sink receives a snapshot after every change.
	sink progress.Sink

	// mu protects every field below.
	mu      sync.Mutex
	session *flash.Session
	state   flash.State
	runID   string
	lastErr string
}

// New creates a store, restoring the previous session from repository
// when one was saved.
func New(ctx context.Context, sink progress.Sink, repository repo.Repository) (*Store, error) {
	if sink == nil {
		sink = progress.Discard
	}

	s := &Store{
		repo:    repository,
		sink:    sink,
		session: &flash.Session{Devices: []flash.Device{}},
		state:   flash.StateIdle,
	}

	if repository == nil {
		return s, nil
	}

	session, err := repository.Load(ctx)

	switch {
	case err == nil:
		if session != nil {
			s.session = session
		}
	case errors.Is(err, repo.ErrNotFound):
		// Keep the empty session.
	default:
		return nil, fmt.Errorf("load session: %w", err)
	}

	return s, nil
}

// Snapshot returns a copy of the session.
func (s *Store) Snapshot() *flash.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session.Clone()
}

// State returns the orchestrator state and the current run id.
func (s *Store) State() (flash.State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state, s.runID
}

// Update applies fn to the session and publishes the result. The session is
// left untouched when fn fails.
func (s *Store) Update(fn func(*flash.Session) error) (*flash.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.session.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.session = next
	s.publishLocked()

	return next.Clone(), nil
}

// ReplaceDevices swaps in a reconciled device list.
func (s *Store) ReplaceDevices(devices []flash.Device) *flash.Session {
	session, _ := s.Update(func(session *flash.Session) error {
		session.Devices = devices

		return nil
	})

	return session
}

// SetProgress records the progress label of one device.
func (s *Store) SetProgress(locID, label string) error {
	_, err := s.Update(func(session *flash.Session) error {
		d := session.Device(locID)
		if d == nil {
			return fmt.Errorf("%w: %s", ErrUnknownDevice, locID)
		}

		d.Progress = label

		return nil
	})

	return err
}

// SetChecked selects or deselects one device for flashing.
func (s *Store) SetChecked(ctx context.Context, locID string, checked bool) (*flash.Session, error) {
	return s.operatorUpdate(ctx, func(session *flash.Session) error {
		d := session.Device(locID)
		if d == nil {
			return fmt.Errorf("%w: %s", ErrUnknownDevice, locID)
		}

		d.Checked = checked

		return nil
	})
}

// SetAllChecked selects or deselects every device.
func (s *Store) SetAllChecked(ctx context.Context, checked bool) (*flash.Session, error) {
	return s.operatorUpdate(ctx, func(session *flash.Session) error {
		for i := range session.Devices {
			session.Devices[i].Checked = checked
		}

		return nil
	})
}

// Select sets the board and release version. Empty values keep the
// current choice.
func (s *Store) Select(ctx context.Context, board flash.BoardType, version string) (*flash.Session, error) {
	return s.operatorUpdate(ctx, func(session *flash.Session) error {
		if board != "" {
			session.Board = board
		}

		if version != "" {
			session.Version = version
		}

		return nil
	})
}

// operatorUpdate applies an operator change outside of flash runs and
// persists it.
func (s *Store) operatorUpdate(ctx context.Context, fn func(*flash.Session) error) (*flash.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Running() {
		return nil, ErrRunInProgress
	}

	next := s.session.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.session = next
	s.publishLocked()

	if s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			logger.Errorf(ctx, "Failed to persist session: %v", err)

			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	return next.Clone(), nil
}

// BeginRun moves the store into state for runID unless a run is active.
func (s *Store) BeginRun(runID string, state flash.State) (*flash.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Running() {
		return nil, ErrRunInProgress
	}

	s.runID = runID
	s.state = state
	s.lastErr = ""
	s.publishLocked()

	return s.session.Clone(), nil
}

// SetState records the orchestrator state of the current run. A non-nil
// runErr is published with the update.
func (s *Store) SetState(state flash.State, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	s.lastErr = ""

	if runErr != nil {
		s.lastErr = runErr.Error()
	}

	s.publishLocked()
}

// Publish re-sends the current snapshot.
func (s *Store) Publish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publishLocked()
}

func (s *Store) publishLocked() {
	s.sink.Publish(progress.Update{
		RunID:     s.runID,
		State:     s.state,
		Session:   s.session.Clone(),
		Error:     s.lastErr,
		Timestamp: time.Now(),
	})
}
