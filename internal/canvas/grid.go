package canvas

import (
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/grid"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/rs/zerolog/log"
)

// farmBounds returns the bounds of the farm boundary, if any.
func (c *Controller) farmBounds() (geo.Bounds, bool) {
	b, ok := c.store.Boundary()
	if !ok || b.Geometry == nil {
		return geo.Bounds{}, false
	}
	return geo.BoundsFromOrb(b.Geometry.Bound()), true
}

// Grid returns the lattice at the current zoom, unit and subdivision.
func (c *Controller) Grid() grid.Grid {
	farm, ok := c.farmBounds()
	if !ok {
		return grid.Grid{}
	}
	zoom := c.renderer.Viewport().Zoom

	c.gridMu.Lock()
	defer c.gridMu.Unlock()
	return grid.New(farm, c.unit, c.gridEngine.SubdivisionFor(zoom))
}

// GridUnit returns the unit system of the grid.
func (c *Controller) GridUnit() grid.Unit {
	c.gridMu.Lock()
	defer c.gridMu.Unlock()
	return c.unit
}

// SetGridUnit switches between imperial and metric cells.
func (c *Controller) SetGridUnit(u grid.Unit) {
	c.gridMu.Lock()
	c.unit = u
	c.gridMu.Unlock()
	c.Regrid()
}

// SetGridDensity changes how many labels are drawn.
func (c *Controller) SetGridDensity(d grid.Density) {
	c.gridMu.Lock()
	c.density = d
	c.gridMu.Unlock()
	c.Regrid()
}

// ViewportChanged is called by the renderer after every camera move.
func (c *Controller) ViewportChanged() {
	c.Regrid()
}

// CellRanges names the cells each feature occupies, keyed by feature ID.
func (c *Controller) CellRanges() map[string]string {
	g := c.Grid()
	out := make(map[string]string)
	for _, f := range c.store.All() {
		if r := g.Range(f.Geometry); r != "" {
			out[f.ID] = r
		}
	}
	return out
}

// Regrid rebuilds both grid sources from the farm bounds and the viewport.
// Lines always span the whole farm; labels only cover the viewport.
func (c *Controller) Regrid() {
	if c.suspended.Load() || !c.renderer.StyleLoaded() {
		return
	}

	vp := c.renderer.Viewport()
	lines, labels := c.overlay(vp)

	if err := c.renderer.SetSourceData(style.SourceGridLines, lines.FeatureCollection()); err != nil {
		log.Debug().Err(err).Msg("Grid lines source not available")
		return
	}
	if err := c.renderer.SetSourceData(style.SourceGridLabels, grid.LabelsFeatureCollection(labels)); err != nil {
		log.Debug().Err(err).Msg("Grid labels source not available")
		return
	}

	log.Trace().
		Float64("zoom", vp.Zoom).
		Str("subdivision", string(lines.Grid.Subdivision)).
		Int("lines", len(lines.Lines)).
		Int("labels", len(labels)).
		Msg("Grid rebuilt")
}

// Overlay returns the grid lines and the labels of the current viewport, as
// last pushed to the renderer.
func (c *Controller) Overlay() (grid.Lines, []grid.Label) {
	return c.overlay(c.renderer.Viewport())
}

func (c *Controller) overlay(vp geo.Viewport) (grid.Lines, []grid.Label) {
	farm, _ := c.farmBounds()

	c.gridMu.Lock()
	defer c.gridMu.Unlock()
	sub := c.gridEngine.SubdivisionFor(vp.Zoom)
	lines := c.gridEngine.GenerateGridLines(farm, c.unit, vp.Zoom, c.density, sub)
	labels := c.gridEngine.GenerateViewportLabels(farm, vp, c.unit, vp.Zoom, c.density, sub)
	return lines, labels
}

// GridDensity returns the label density.
func (c *Controller) GridDensity() grid.Density {
	c.gridMu.Lock()
	defer c.gridMu.Unlock()
	return c.density
}
