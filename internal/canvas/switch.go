package canvas

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/rs/zerolog/log"
)

// Switching reports whether an imagery switch is running.
func (c *Controller) Switching() bool {
	return c.switching.Load()
}

// SwitchImagery replaces the base imagery and rebuilds every custom layer on
// top of it. A second switch requested while one runs is rejected with
// ErrSwitchInProgress. User input is held back until the switch completes.
//
// Slow style loads and slow tiles do not fail the switch: after the bounded
// waits the layers are registered anyway and a warning is logged. Once the
// style has been replaced the switch always completes; a cancelled ctx only
// cuts the waits short and its error is returned afterwards.
func (c *Controller) SwitchImagery(ctx context.Context, name string) error {
	src, ok := c.catalog.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownImagery, name)
	}
	if !c.switching.CompareAndSwap(false, true) {
		return ErrSwitchInProgress
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// cleared before mu is released so the next switch starts clean
	defer c.switching.Store(false)

	prev, prevTool := c.state, c.tool
	if prev == StateEditing {
		c.deselectLocked()
		prev = StateIdle
	}
	c.setStateLocked(StateStyleSwitching, prevTool)
	started := time.Now()

	// the snapshot is taken before the style is torn down
	snapshot := c.store.All()
	c.staleSwitch.Store(false)
	c.suspended.Store(true)

	loaded := c.renderer.Once(StyleLoad)
	if err := c.renderer.SetStyle(src); err != nil {
		c.suspended.Store(false)
		c.setStateLocked(prev, prevTool)
		return fmt.Errorf("set style %s: %w", name, err)
	}

	waitErr := c.waitSettled(ctx, name, loaded)

	c.imagery = name
	c.restoreLayers()

	if err := c.renderer.SetSourceData(style.SourceFeatures, feature.ToGeoJSON(snapshot)); err != nil {
		log.Error().Err(err).Str("imagery", name).Msg("Failed to restore features")
	}

	// let Regrid and the store handler reach the renderer again
	c.suspended.Store(false)
	if c.staleSwitch.Swap(false) {
		c.syncFeatures()
	}
	c.Regrid()

	c.setStateLocked(prev, prevTool)
	c.emit(Event{Kind: EventImagery, Imagery: name})

	if waitErr != nil {
		log.Warn().Err(waitErr).Str("imagery", name).Dur("took", time.Since(started)).Msg("Imagery switch cut short")
		return waitErr
	}

	log.Info().
		Str("imagery", name).
		Int("features", len(snapshot)).
		Dur("took", time.Since(started)).
		Msg("Imagery switched")
	return nil
}

// waitSettled waits for the style load and then for the imagery to settle.
// Timeouts are logged and swallowed; only a ctx error is returned, and it
// ends both waits.
func (c *Controller) waitSettled(ctx context.Context, name string, loaded <-chan struct{}) error {
	if err := c.waitSignal(ctx, loaded, c.opts.StyleLoadTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Str("imagery", name).Dur("timeout", c.opts.StyleLoadTimeout).Msg("Style load not signalled, continuing")
	}

	if c.renderer.IsImagerySettled() {
		return nil
	}
	idle := c.renderer.Once(Idle)
	if c.renderer.IsImagerySettled() {
		return nil
	}
	if err := c.waitSignal(ctx, idle, c.opts.IdleTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Str("imagery", name).Dur("timeout", c.opts.IdleTimeout).Msg("Imagery not settled, continuing")
	}
	return nil
}

// restoreLayers attaches the draw surface and registers every custom layer in
// stack order. A failed layer is logged and the rest are still registered.
func (c *Controller) restoreLayers() {
	if err := c.renderer.AttachDraw(); err != nil {
		log.Error().Err(err).Msg("Failed to attach draw surface")
	}

	for _, l := range style.Layers() {
		if err := c.renderer.AddLayer(l); err != nil {
			log.Error().Err(err).Str("layer", l.ID).Msg("Failed to register layer")
		}
	}

	if got := c.customLayerIDs(); !slices.Equal(got, style.Order) {
		log.Error().Strs("want", style.Order).Strs("got", got).Msg("Layer stack out of order")
	}
}

// customLayerIDs lists the registered custom layers bottom to top.
func (c *Controller) customLayerIDs() []string {
	var out []string
	for _, id := range c.renderer.LayerIDs() {
		if slices.Contains(style.Order, id) {
			out = append(out, id)
		}
	}
	return out
}

func (c *Controller) waitSignal(ctx context.Context, ch <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
