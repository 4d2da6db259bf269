// Package style derives paint values for map features from their zone type.
// It knows nothing about the renderer; adapters read the table or the
// exported expressions.
package style

import (
	"image/color"
	"sort"

	"github.com/woozymasta/farmcanvas/internal/feature"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ZoneStyle is the paint of one zone type.
type ZoneStyle struct {
	Fill        string  `json:"fill" yaml:"fill"`
	Stroke      string  `json:"stroke" yaml:"stroke"`
	FillOpacity float64 `json:"fill_opacity" yaml:"fill_opacity"`
}

// Fallback is used for unknown zone types.
var Fallback = ZoneStyle{Fill: "#9ca3af", Stroke: "#6b7280", FillOpacity: 0.3}

var zones = map[string]ZoneStyle{
	"pasture":   {Fill: "#84cc16", Stroke: "#4d7c0f", FillOpacity: 0.35},
	"cropland":  {Fill: "#eab308", Stroke: "#a16207", FillOpacity: 0.35},
	"orchard":   {Fill: "#f97316", Stroke: "#c2410c", FillOpacity: 0.35},
	"garden":    {Fill: "#22c55e", Stroke: "#15803d", FillOpacity: 0.4},
	"forest":    {Fill: "#166534", Stroke: "#14532d", FillOpacity: 0.4},
	"water":     {Fill: "#3b82f6", Stroke: "#1d4ed8", FillOpacity: 0.45},
	"wetland":   {Fill: "#14b8a6", Stroke: "#0f766e", FillOpacity: 0.35},
	"building":  {Fill: "#6b7280", Stroke: "#374151", FillOpacity: 0.5},
	"livestock": {Fill: "#a855f7", Stroke: "#7e22ce", FillOpacity: 0.35},
	"road":      {Fill: "#78716c", Stroke: "#44403c", FillOpacity: 0.5},
	"path":      {Fill: "#d6d3d1", Stroke: "#a8a29e", FillOpacity: 0.5},
	"fence":     {Fill: "#92400e", Stroke: "#78350f", FillOpacity: 0.6},
	"tree":      {Fill: "#15803d", Stroke: "#14532d", FillOpacity: 0.8},
	"other":     Fallback,
}

// BoundaryStyle is the fixed dashed double stroke of the farm boundary.
type BoundaryStyle struct {
	Casing      string    `json:"casing"`
	CasingWidth float64   `json:"casing_width"`
	Line        string    `json:"line"`
	LineWidth   float64   `json:"line_width"`
	Dash        []float64 `json:"dash"`
}

// Boundary is never looked up in the zone table.
var Boundary = BoundaryStyle{
	Casing:      "#ffffff",
	CasingWidth: 6,
	Line:        "#dc2626",
	LineWidth:   2.5,
	Dash:        []float64{4, 2},
}

// Lookup returns the style of a zone type, or Fallback.
func Lookup(zoneType string) ZoneStyle {
	if s, ok := zones[zoneType]; ok {
		return s
	}
	return Fallback
}

// ZoneTypes lists the known zone types, sorted.
func ZoneTypes() []string {
	out := make([]string, 0, len(zones))
	for k := range zones {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Known reports whether the zone type has its own style.
func Known(zoneType string) bool {
	_, ok := zones[zoneType]
	return ok
}

// FillColorFor returns the fill colour of a zone type.
func FillColorFor(zoneType string) string {
	return Lookup(zoneType).Fill
}

// StrokeColorFor returns the stroke colour of a zone type.
func StrokeColorFor(zoneType string) string {
	return Lookup(zoneType).Stroke
}

// FillOpacityFor returns the fill opacity of a zone type.
func FillOpacityFor(zoneType string) float64 {
	return Lookup(zoneType).FillOpacity
}

// RGBA parses a hex colour and applies an opacity, premultiplied as image/color expects.
func RGBA(hex string, opacity float64) color.RGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(Fallback.Fill)
	}
	if opacity < 0 {
		opacity = 0
	} else if opacity > 1 {
		opacity = 1
	}
	r, g, b := c.RGB255()
	a := opacity
	return color.RGBA{
		R: uint8(float64(r)*a + 0.5),
		G: uint8(float64(g)*a + 0.5),
		B: uint8(float64(b)*a + 0.5),
		A: uint8(255*a + 0.5),
	}
}

// FeatureFill returns the premultiplied fill of a feature.
func FeatureFill(f feature.Feature) color.RGBA {
	if f.IsBoundary() {
		return color.RGBA{}
	}
	s := Lookup(f.ZoneType)
	return RGBA(s.Fill, s.FillOpacity)
}

// FeatureStroke returns the opaque stroke of a feature.
func FeatureStroke(f feature.Feature) color.RGBA {
	if f.IsBoundary() {
		return RGBA(Boundary.Line, 1)
	}
	return RGBA(Lookup(f.ZoneType).Stroke, 1)
}
