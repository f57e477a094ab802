package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
)

// LogSink writes every update to the context logger.
type LogSink struct {
	ctx context.Context //nolint:containedctx // Carries the named logger only.
}

// NewLogSink creates a LogSink using the logger stored in ctx.
func NewLogSink(ctx context.Context) *LogSink {
	return &LogSink{ctx: logger.WithName(ctx, "progress")}
}

// Publish logs the state and a compact device summary.
func (s *LogSink) Publish(update Update) {
	kvs := []any{"state", update.State}
	if update.RunID != "" {
		kvs = append(kvs, "run_id", update.RunID)
	}

	if update.Error != "" {
		kvs = append(kvs, "error", update.Error)
	}

	if update.Session != nil {
		kvs = append(kvs, "devices", summary(update.Session.Devices))
	}

	logger.DebugKV(s.ctx, "Progress", kvs...)
}

func summary(devices []flash.Device) string {
	parts := make([]string, 0, len(devices))
	for _, d := range devices {
		parts = append(parts, d.LocID+"="+d.Progress)
	}

	return strings.Join(parts, " ")
}

// ConsoleSink prints one coloured line per device progress change.
type ConsoleSink struct {
	out io.Writer

	mu   sync.Mutex
	last map[string]string
}

// NewConsoleSink creates a ConsoleSink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:  out,
		last: make(map[string]string),
	}
}

// Publish prints devices whose progress changed since the previous update.
func (s *ConsoleSink) Publish(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Error != "" {
		_, _ = fmt.Fprintln(s.out, color.RedString("%s: %s", update.State, update.Error))
	}

	if update.Session == nil {
		return
	}

	for _, d := range update.Session.Devices {
		if s.last[d.LocID] == d.Progress {
			continue
		}

		s.last[d.LocID] = d.Progress
		_, _ = fmt.Fprintf(s.out, "device %-6s %s\n", d.LocID, Colorize(d.Progress))
	}
}

// Colorize paints a progress label: green for success, red for failures.
func Colorize(progress string) string {
	switch {
	case progress == flash.ProgressSuccess:
		return color.GreenString(progress)
	case strings.HasPrefix(progress, flash.ProgressFailedPrefix):
		return color.RedString(progress)
	case progress == flash.ProgressReady:
		return progress
	default:
		return color.YellowString(progress)
	}
}
