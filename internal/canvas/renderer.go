// Package canvas is the controller of the map design canvas. It owns the
// renderer handle, turns pointer and keyboard input into feature store
// operations, keeps the grid overlay in step with the viewport and rebuilds
// every custom layer after a base imagery switch.
package canvas

import (
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/paulmach/orb/geojson"
)

// RenderEvent is a signal emitted by the renderer.
type RenderEvent string

// Renderer events.
const (
	// StyleLoad fires once the base style is usable.
	StyleLoad RenderEvent = "style.load"
	// Idle fires when every tile is painted and the camera is at rest.
	Idle RenderEvent = "idle"
)

// Renderer is the adapter around the map surface.
//
// SetStyle destroys every custom layer, every source and the draw surface.
// Callers must re-register them once the new style has loaded.
type Renderer interface {
	SetStyle(src imagery.Source) error
	// Once returns a channel closed on the next emission of ev.
	Once(ev RenderEvent) <-chan struct{}
	StyleLoaded() bool
	// IsImagerySettled reports all tile sources loaded and the camera at rest.
	IsImagerySettled() bool
	Viewport() geo.Viewport

	AddLayer(l style.Layer) error
	LayerIDs() []string
	SetSourceData(source string, fc *geojson.FeatureCollection) error

	// AttachDraw creates the editing surface that displays the features source.
	AttachDraw() error
	DrawAttached() bool
}
