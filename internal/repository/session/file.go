package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/rkflash/internal/config"
	"github.com/oshokin/rkflash/internal/domain/flash"
)

// Repository defines persistence operations for the session.
type Repository interface {
	Load(ctx context.Context) (*flash.Session, error)
	Save(ctx context.Context, session *flash.Session) error
}

// ErrNotFound is returned when the session file does not exist yet.
var ErrNotFound = errors.New("session not found")

// record is the on-disk layout.
type record struct {
	Board    flash.BoardType `yaml:"board,omitempty"`
	Version  string          `yaml:"version,omitempty"`
	Selected []string        `yaml:"selected,omitempty"`
	SavedAt  time.Time       `yaml:"saved_at"`
	SavedBy  string          `yaml:"saved_by,omitempty"`
}

// FileRepository persists the session to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the session file.
	path string
	// mu serializes access to the session file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes YAML at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the session file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the session from disk. Devices stay empty until the next
// enumeration; the saved selection comes back in Remembered.
func (r *FileRepository) Load(_ context.Context) (*flash.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read session file: %w", err)
	}

	var rec record
	if err = yaml.Unmarshal(contents, &rec); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}

	return fromRecord(&rec), nil
}

// Save writes the session to disk atomically.
func (r *FileRepository) Save(_ context.Context, session *flash.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err = atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	if err = os.Chmod(r.path, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod session file: %w", err)
	}

	return nil
}

func fromRecord(rec *record) *flash.Session {
	session := &flash.Session{
		Board:   rec.Board,
		Version: rec.Version,
		Devices: []flash.Device{},
	}

	for _, locID := range rec.Selected {
		if locID != "" && !slices.Contains(session.Remembered, locID) {
			session.Remembered = append(session.Remembered, locID)
		}
	}

	return session
}

func toRecord(session *flash.Session) *record {
	rec := &record{
		Board:   session.Board,
		Version: session.Version,
		SavedAt: time.Now().UTC(),
		SavedBy: operator(),
	}

	for _, d := range session.Devices {
		if d.Checked {
			rec.Selected = append(rec.Selected, d.LocID)
		}
	}

	// Not enumerated yet: keep the previous selection on disk.
	rec.Selected = append(rec.Selected, session.Remembered...)

	slices.Sort(rec.Selected)
	rec.Selected = slices.Compact(rec.Selected)

	return rec
}

// operator returns user@host of the current process for the audit trail.
func operator() string {
	hostname, err := os.Hostname()
	if err != nil {
		return ""
	}

	currentUser, err := user.Current()
	if err != nil {
		return hostname
	}

	return currentUser.Username + "@" + hostname
}
