// Package autosave collapses bursts of feature edits into one save call to
// the persistence collaborator.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/woozymasta/farmcanvas/internal/feature"

	"github.com/rs/zerolog/log"
)

// DefaultDelay is the trailing debounce window.
const DefaultDelay = 2 * time.Second

// Saver persists the full feature set of a farm.
type Saver interface {
	SaveZones(ctx context.Context, farmID string, features []feature.Feature) error
}

// Source supplies the features to save at flush time.
type Source func() []feature.Feature

// Status is reported to the host UI after every state change.
type Status struct {
	Dirty   bool
	Saving  bool
	LastErr error
	SavedAt time.Time
}

// Debouncer saves Delay after the last Touch.
type Debouncer struct {
	saver   Saver
	source  Source
	farmID  string
	delay   time.Duration
	timeout time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	dirty    bool
	saving   bool
	rerun    bool
	lastErr  error
	savedAt  time.Time
	onStatus []func(Status)
	closed   bool
	idle     chan struct{}
}

// New creates a debouncer. A zero delay uses DefaultDelay.
func New(saver Saver, farmID string, source Source, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		saver:   saver,
		source:  source,
		farmID:  farmID,
		delay:   delay,
		timeout: 30 * time.Second,
	}
}

// OnStatus registers a status handler.
func (d *Debouncer) OnStatus(fn func(Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStatus = append(d.onStatus, fn)
}

// HandleChange is a feature.Store change handler.
func (d *Debouncer) HandleChange(c feature.Change) {
	if c.Persist {
		d.Touch()
	}
}

// Touch marks the set dirty and restarts the debounce window.
func (d *Debouncer) Touch() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.dirty = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
	st := d.statusLocked()
	handlers := d.onStatus
	d.mu.Unlock()

	notify(handlers, st)
}

// Dirty reports unsaved changes.
func (d *Debouncer) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Saving reports a save in flight.
func (d *Debouncer) Saving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saving
}

// Status returns the current flags.
func (d *Debouncer) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusLocked()
}

// Flush saves immediately if dirty and waits for any save in flight. It
// gives up waiting when ctx is done.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if err := d.waitIdle(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	dirty := d.dirty
	d.mu.Unlock()

	if dirty {
		if err := d.save(ctx); err != nil {
			return err
		}
	}

	if err := d.waitIdle(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// waitIdle blocks until no save is in flight or ctx is done.
func (d *Debouncer) waitIdle(ctx context.Context) error {
	for {
		d.mu.Lock()
		if !d.saving {
			d.mu.Unlock()
			return nil
		}
		idle := d.idle
		d.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close flushes pending changes and stops accepting new ones.
func (d *Debouncer) Close(ctx context.Context) error {
	err := d.Flush(ctx)
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	return err
}

func (d *Debouncer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.save(ctx); err != nil {
		log.Error().Err(err).Str("farm", d.farmID).Msg("Autosave failed")
	}
}

func (d *Debouncer) save(ctx context.Context) error {
	d.mu.Lock()
	if d.saving {
		// the running save picks up the latest state when it finishes
		d.rerun = true
		d.mu.Unlock()
		return nil
	}
	d.saving = true
	d.idle = make(chan struct{})
	d.dirty = false
	handlers := d.onStatus
	st := d.statusLocked()
	d.mu.Unlock()
	notify(handlers, st)

	features := d.source()
	start := time.Now()
	err := d.saver.SaveZones(ctx, d.farmID, features)

	d.mu.Lock()
	d.saving = false
	d.lastErr = err
	if err != nil {
		d.dirty = true
	} else {
		d.savedAt = time.Now()
	}
	rerun := d.rerun && !d.closed
	d.rerun = false
	st = d.statusLocked()
	close(d.idle)
	d.mu.Unlock()
	notify(handlers, st)

	log.Debug().
		Str("farm", d.farmID).
		Int("features", len(features)).
		Dur("duration", time.Since(start)).
		AnErr("error", err).
		Msg("Zones saved")

	if rerun {
		return d.save(ctx)
	}
	return err
}

func (d *Debouncer) statusLocked() Status {
	return Status{Dirty: d.dirty, Saving: d.saving, LastErr: d.lastErr, SavedAt: d.savedAt}
}

func notify(handlers []func(Status), st Status) {
	for _, fn := range handlers {
		fn(st)
	}
}
