// Package snap pulls raw pointer coordinates onto grid intersections while
// the map is in the precision tier.
package snap

import (
	"math"
	"sync/atomic"

	"github.com/woozymasta/farmcanvas/internal/grid"

	"github.com/paulmach/orb"
)

// Settings holds the snapping thresholds.
type Settings struct {
	// MinZoom is the lowest zoom where snapping is active.
	MinZoom float64 `yaml:"min_zoom" json:"min_zoom"`
	// PointerRadius is the capture radius for mouse and pen, in cell edges.
	PointerRadius float64 `yaml:"pointer_radius" json:"pointer_radius"`
	// TouchRadius is the wider capture radius for touch input, in cell edges.
	TouchRadius float64 `yaml:"touch_radius" json:"touch_radius"`
}

// DefaultSettings returns the thresholds used when none are configured.
func DefaultSettings() Settings {
	return Settings{MinZoom: 20, PointerRadius: 0.25, TouchRadius: 0.45}
}

// Result is the outcome of one snap attempt.
type Result struct {
	Lng     float64 `json:"lng"`
	Lat     float64 `json:"lat"`
	Snapped bool    `json:"snapped"`
}

// Point returns the result as an orb.Point.
func (r Result) Point() orb.Point {
	return orb.Point{r.Lng, r.Lat}
}

// Engine snaps with a fixed set of thresholds.
type Engine struct {
	Settings Settings
}

// Default is the engine used by SnapCoordinate.
var Default = Engine{Settings: DefaultSettings()}

// SnapCoordinate returns the nearest grid intersection within the capture
// radius, or the input unchanged with Snapped false.
func (e Engine) SnapCoordinate(lng, lat float64, g grid.Grid, zoom float64, enabled, touch bool) Result {
	orig := Result{Lng: lng, Lat: lat}
	if !enabled || zoom < e.Settings.MinZoom || g.DLng <= 0 || g.DLat <= 0 {
		return orig
	}

	// work in cell units so the radius is the same on the ground in both axes
	u := (lng - g.Origin.Lon()) / g.DLng
	v := (lat - g.Origin.Lat()) / g.DLat
	i, j := math.Round(u), math.Round(v)

	radius := e.Settings.PointerRadius
	if touch {
		radius = e.Settings.TouchRadius
	}
	if math.Hypot(u-i, v-j) > radius {
		return orig
	}

	p := g.Intersection(int(i), int(j))
	return Result{Lng: p.Lon(), Lat: p.Lat(), Snapped: true}
}

// SnapCoordinate uses the default engine.
func SnapCoordinate(lng, lat float64, g grid.Grid, zoom float64, enabled, touch bool) Result {
	return Default.SnapCoordinate(lng, lat, g, zoom, enabled, touch)
}

// Modifier tracks a held key that suspends snapping until released.
// It is transient UI state and safe for concurrent use.
type Modifier struct {
	held atomic.Bool
}

// Press marks the modifier as held.
func (m *Modifier) Press() { m.held.Store(true) }

// Release marks the modifier as released.
func (m *Modifier) Release() { m.held.Store(false) }

// Held reports whether the modifier is down.
func (m *Modifier) Held() bool { return m.held.Load() }

// Enabled combines a user preference with the modifier state.
func (m *Modifier) Enabled(preference bool) bool {
	return preference && !m.Held()
}
