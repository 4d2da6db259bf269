package canvas

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/grid"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/snap"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

// Options configure a Controller.
type Options struct {
	FarmID         string
	DefaultImagery string
	Unit           grid.Unit
	Density        grid.Density
	Grid           grid.Settings
	Snap           snap.Settings
	SnapEnabled    bool
	// StyleLoadTimeout bounds the wait for the style load signal.
	StyleLoadTimeout time.Duration
	// IdleTimeout bounds the wait for a fully painted renderer.
	IdleTimeout    time.Duration
	CircleSegments int
}

func (o *Options) defaults() {
	if o.Unit == "" {
		o.Unit = grid.Imperial
	}
	if o.Density == "" {
		o.Density = grid.DensityAuto
	}
	if o.Grid == (grid.Settings{}) {
		o.Grid = grid.DefaultSettings()
	}
	if o.Snap == (snap.Settings{}) {
		o.Snap = snap.DefaultSettings()
	}
	if o.StyleLoadTimeout <= 0 {
		o.StyleLoadTimeout = 10 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.CircleSegments < 8 {
		o.CircleSegments = 64
	}
}

// Controller owns one map canvas. All user input goes through it; input
// arriving during an imagery switch waits until the switch has finished.
type Controller struct {
	renderer Renderer
	store    *feature.Store
	catalog  *imagery.Catalog
	opts     Options

	mu       sync.Mutex
	state    State
	tool     Tool
	selected string
	draft    []orb.Point
	imagery  string

	switching   atomic.Bool
	suspended   atomic.Bool
	staleSwitch atomic.Bool
	snapOn      atomic.Bool
	modifier    snap.Modifier

	gridMu     sync.Mutex
	unit       grid.Unit
	density    grid.Density
	gridEngine grid.Engine
	snapEngine snap.Engine

	hmu      sync.Mutex
	handlers []func(Event)
}

// New wires a controller to its renderer and feature store.
func New(r Renderer, store *feature.Store, catalog *imagery.Catalog, opts Options) (*Controller, error) {
	opts.defaults()
	if _, ok := catalog.Get(opts.DefaultImagery); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownImagery, opts.DefaultImagery)
	}

	c := &Controller{
		renderer:   r,
		store:      store,
		catalog:    catalog,
		opts:       opts,
		state:      StateIdle,
		unit:       opts.Unit,
		density:    opts.Density,
		gridEngine: grid.Engine{Settings: opts.Grid},
		snapEngine: snap.Engine{Settings: opts.Snap},
	}
	c.snapOn.Store(opts.SnapEnabled)

	store.OnChange(c.handleChange)
	store.OnWarning(func(w feature.Warning) {
		c.emit(Event{Kind: EventWarning, FeatureID: w.FeatureID, Message: w.Message})
	})
	store.OnPrompt(func(p feature.Prompt) {
		c.emit(Event{Kind: EventPrompt, FeatureID: p.FeatureID, Prompt: &p})
	})

	return c, nil
}

// Start loads the default imagery and registers every layer.
func (c *Controller) Start(ctx context.Context) error {
	return c.SwitchImagery(ctx, c.opts.DefaultImagery)
}

// OnEvent registers a host UI event handler. Handlers run synchronously
// and must not call back into the controller.
func (c *Controller) OnEvent(fn func(Event)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers = append(c.handlers, fn)
}

func (c *Controller) emit(ev Event) {
	c.hmu.Lock()
	handlers := c.handlers
	c.hmu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Snapshot returns the state shown to the host UI.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:    c.state,
		Tool:     c.tool,
		Selected: c.selected,
		Imagery:  c.imagery,
		Vertices: len(c.draft),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentImagery returns the active base imagery name.
func (c *Controller) CurrentImagery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imagery
}

// Features returns the working set.
func (c *Controller) Features() []feature.Feature {
	return c.store.All()
}

// setStateLocked must be called with mu held.
func (c *Controller) setStateLocked(s State, tool Tool) {
	if c.state == s && c.tool == tool {
		return
	}
	log.Debug().
		Str("from", string(c.state)).
		Str("to", string(s)).
		Str("tool", string(tool)).
		Msg("Canvas state changed")
	c.state, c.tool = s, tool
	c.emit(Event{Kind: EventState, State: s, Tool: tool})
}

// handleChange keeps the renderer in step with the store. It never takes
// mu because the store delivers changes while a controller method holds it.
func (c *Controller) handleChange(ch feature.Change) {
	if c.suspended.Load() {
		c.staleSwitch.Store(true)
		// the switch may have resumed before the flag was seen
		if c.suspended.Load() {
			return
		}
	}
	c.syncFeatures()
	if ch.Feature.IsBoundary() || ch.Kind == feature.Loaded {
		c.Regrid()
	}
}

func (c *Controller) syncFeatures() {
	if !c.renderer.DrawAttached() {
		return
	}
	if err := c.renderer.SetSourceData(style.SourceFeatures, feature.ToGeoJSON(c.store.All())); err != nil {
		log.Debug().Err(err).Msg("Features source not available")
	}
}

// Select enters editing for a feature. Selecting the boundary is denied and
// the controller stays idle.
func (c *Controller) Select(id string) error {
	f, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", feature.ErrNotFound, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if f.IsBoundary() {
		c.selected = ""
		c.draft = nil
		c.setStateLocked(StateIdle, ToolNone)
		c.emit(Event{Kind: EventWarning, FeatureID: id, Message: "The farm boundary can't be selected"})
		return nil
	}

	c.draft = nil
	c.selected = id
	c.setStateLocked(StateEditing, ToolNone)
	c.emit(Event{Kind: EventSelect, FeatureID: id})
	return nil
}

// Deselect leaves editing.
func (c *Controller) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deselectLocked()
}

func (c *Controller) deselectLocked() {
	if c.selected == "" {
		return
	}
	id := c.selected
	c.selected = ""
	c.setStateLocked(StateIdle, ToolNone)
	c.emit(Event{Kind: EventDeselect, FeatureID: id})
}

// MoveVertex drags one vertex of the selected feature and commits the edit.
// ring and index address polygon rings; lines use ring 0 and points ignore both.
func (c *Controller) MoveVertex(ring, index int, p orb.Point, touch bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEditing || c.selected == "" {
		return ErrNotEditing
	}
	f, ok := c.store.Get(c.selected)
	if !ok {
		c.deselectLocked()
		return fmt.Errorf("%w: %s", feature.ErrNotFound, c.selected)
	}

	p = c.snapPoint(p, touch)
	geom, err := moveVertex(f.Geometry, ring, index, p)
	if err != nil {
		return err
	}
	if err := c.store.Update(f.ID, feature.Patch{Geometry: geom}); err != nil {
		return err
	}

	c.deselectLocked()
	return nil
}

// CommitGeometry applies a geometry reported by the draw surface, e.g. after
// a whole-feature drag. Boundary edits are reverted by the store.
func (c *Controller) CommitGeometry(id string, geom orb.Geometry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Update(id, feature.Patch{Geometry: geom}); err != nil {
		return err
	}
	if c.selected == id {
		c.deselectLocked()
	}
	return nil
}

// Delete removes a feature. Deleting the boundary is vetoed by the store.
func (c *Controller) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(id); err != nil {
		return err
	}
	if c.selected == id {
		if _, still := c.store.Get(id); !still {
			c.deselectLocked()
		}
	}
	return nil
}

// SetLabel answers the label prompt of a new feature or renames an existing one.
func (c *Controller) SetLabel(id, zoneType, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.Pending(id) {
		return c.store.ResolveLabel(id, zoneType, label)
	}
	p := feature.Patch{Label: &label}
	if zoneType != "" {
		p.ZoneType = &zoneType
	}
	return c.store.Update(id, p)
}

// SetSnapEnabled toggles the snapping preference.
func (c *Controller) SetSnapEnabled(on bool) {
	c.snapOn.Store(on)
}

// PressModifier suspends snapping until ReleaseModifier.
func (c *Controller) PressModifier() { c.modifier.Press() }

// ReleaseModifier re-enables snapping.
func (c *Controller) ReleaseModifier() { c.modifier.Release() }

func (c *Controller) snapPoint(p orb.Point, touch bool) orb.Point {
	g := c.Grid()
	zoom := c.renderer.Viewport().Zoom
	r := c.snapEngine.SnapCoordinate(p.Lon(), p.Lat(), g, zoom, c.modifier.Enabled(c.snapOn.Load()), touch)
	return r.Point()
}
