// Package poller periodically refreshes the attached device list.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oshokin/rkflash/internal/domain/flash"
	"github.com/oshokin/rkflash/internal/logger"
	"github.com/oshokin/rkflash/internal/session"
)

// DefaultInterval is the refresh period used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// ErrPaused is returned by RefreshNow while a flash run owns the session.
var ErrPaused = errors.New("device polling is paused")

// Registry enumerates devices and merges them with the previous list.
type Registry interface {
	Enumerate(ctx context.Context) ([]flash.Device, error)
	Reconcile(prev, next []flash.Device) []flash.Device
}

// Poller refreshes the session's devices on a fixed interval.
type Poller struct {
	registry Registry
	store    *session.Store
	interval time.Duration

	// mu is held for the whole of a refresh; Pause takes it too, so it
	// returns only after an in-flight refresh has finished.
	mu     sync.Mutex
	paused bool
}

// New creates a poller.
func New(registry Registry, store *session.Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Poller{
		registry: registry,
		store:    store,
		interval: interval,
	}
}

// Run refreshes devices until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "poller")

	logger.InfoKV(ctx, "Polling devices", "interval", p.interval.String())

	// Show the devices right away instead of after the first tick.
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, polling stopped")

			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	err := p.RefreshNow(ctx)

	switch {
	case err == nil, errors.Is(err, ErrPaused):
	case ctx.Err() != nil:
	default:
		logger.WarnKV(ctx, "Device refresh failed, keeping previous list", "error", err)
	}
}

// RefreshNow enumerates devices once. On failure the previous device list
// stays in the session.
func (p *Poller) RefreshNow(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return ErrPaused
	}

	next, err := p.registry.Enumerate(ctx)
	if err != nil {
		return err
	}

	_, err = p.store.Update(func(s *flash.Session) error {
		s.Devices = p.registry.Reconcile(s.Devices, next)
		s.RestoreSelection()

		return nil
	})

	return err
}

// Pause stops refreshes, waiting for one in flight to complete.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = true
}

// Resume re-enables refreshes.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = false
}

// Paused reports whether refreshes are suspended.
func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.paused
}
