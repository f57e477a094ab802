package progress

import (
	"time"

	"github.com/oshokin/rkflash/internal/domain/flash"
)

// Update is a snapshot of the station published after every change.
type Update struct {
	// RunID identifies the flash run, empty for poller updates.
	RunID string `json:"run_id,omitempty"`
	// State is the orchestrator state at publication time.
	State flash.State `json:"state"`
	// Session is a copy of the shared session.
	Session *flash.Session `json:"session"`
	// Error describes the failure that moved the run to StateFailed.
	Error string `json:"error,omitempty"`
	// Timestamp is when the update was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives updates. Implementations must not block.
type Sink interface {
	Publish(update Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Update)

// Publish calls f.
func (f SinkFunc) Publish(update Update) {
	f(update)
}

// Multi fans one update out to several sinks in order.
type Multi []Sink

// Publish forwards the update to every non-nil sink.
func (m Multi) Publish(update Update) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(update)
		}
	}
}

// Discard drops every update.
var Discard Sink = SinkFunc(func(Update) {}) //nolint:gochecknoglobals // Stateless no-op sink.
