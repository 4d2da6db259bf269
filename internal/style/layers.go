package style

import (
	"github.com/woozymasta/farmcanvas/internal/feature"
)

// LayerType is the primitive a layer draws.
type LayerType string

// Layer types.
const (
	FillLayer   LayerType = "fill"
	LineLayer   LayerType = "line"
	CircleLayer LayerType = "circle"
	SymbolLayer LayerType = "symbol"
)

// Source names used by the layers.
const (
	SourceFeatures   = "features"
	SourceGridLines  = "grid-lines"
	SourceGridLabels = "grid-labels"
)

// Filter selects the features a layer draws. A nil Boundary matches both.
type Filter struct {
	Geometry feature.GeometryType `json:"geometry,omitempty"`
	Boundary *bool                `json:"boundary,omitempty"`
}

// Match reports whether a feature passes the filter.
func (f Filter) Match(ft feature.Feature) bool {
	if f.Geometry != "" && ft.GeometryType() != f.Geometry {
		return false
	}
	if f.Boundary != nil && ft.IsBoundary() != *f.Boundary {
		return false
	}
	return true
}

// Layer is one custom paint layer.
type Layer struct {
	ID     string         `json:"id"`
	Type   LayerType      `json:"type"`
	Source string         `json:"source"`
	Filter Filter         `json:"filter"`
	Paint  map[string]any `json:"paint"`
}

// Layer IDs in drawing order.
const (
	LayerBoundaryFill   = "boundary-fill"
	LayerBoundaryCasing = "boundary-casing"
	LayerBoundaryLine   = "boundary-line"
	LayerZoneFill       = "zone-fill"
	LayerZoneStroke     = "zone-stroke"
	LayerLines          = "feature-lines"
	LayerPoints         = "feature-points"
	LayerGridLines      = "grid-lines"
	LayerGridLabels     = "grid-labels"
)

// Order is the fixed z-order, bottom first. Grid labels are always on top.
var Order = []string{
	LayerBoundaryFill,
	LayerBoundaryCasing,
	LayerBoundaryLine,
	LayerZoneFill,
	LayerZoneStroke,
	LayerLines,
	LayerPoints,
	LayerGridLines,
	LayerGridLabels,
}

// Layers builds every custom layer in Order.
func Layers() []Layer {
	yes, no := true, false
	return []Layer{
		{
			ID: LayerBoundaryFill, Type: FillLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.Polygon, Boundary: &yes},
			Paint:  map[string]any{"fill-color": Boundary.Casing, "fill-opacity": 0.0},
		},
		{
			ID: LayerBoundaryCasing, Type: LineLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.Polygon, Boundary: &yes},
			Paint:  map[string]any{"line-color": Boundary.Casing, "line-width": Boundary.CasingWidth},
		},
		{
			ID: LayerBoundaryLine, Type: LineLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.Polygon, Boundary: &yes},
			Paint: map[string]any{
				"line-color":     Boundary.Line,
				"line-width":     Boundary.LineWidth,
				"line-dasharray": Boundary.Dash,
			},
		},
		{
			ID: LayerZoneFill, Type: FillLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.Polygon, Boundary: &no},
			Paint: map[string]any{
				"fill-color":   FillColorExpression(),
				"fill-opacity": FillOpacityExpression(),
			},
		},
		{
			ID: LayerZoneStroke, Type: LineLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.Polygon, Boundary: &no},
			Paint:  map[string]any{"line-color": StrokeColorExpression(), "line-width": 2.0},
		},
		{
			ID: LayerLines, Type: LineLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.LineString},
			Paint:  map[string]any{"line-color": StrokeColorExpression(), "line-width": 3.0},
		},
		{
			ID: LayerPoints, Type: CircleLayer, Source: SourceFeatures,
			Filter: Filter{Geometry: feature.Point},
			Paint: map[string]any{
				"circle-color":        FillColorExpression(),
				"circle-radius":       6.0,
				"circle-stroke-color": StrokeColorExpression(),
			},
		},
		{
			ID: LayerGridLines, Type: LineLayer, Source: SourceGridLines,
			Paint: map[string]any{"line-color": "#ffffff", "line-opacity": 0.55, "line-width": 1.0},
		},
		{
			ID: LayerGridLabels, Type: SymbolLayer, Source: SourceGridLabels,
			Paint: map[string]any{"text-color": "#ffffff", "text-halo-color": "#000000"},
		},
	}
}

// FillColorExpression is a match expression over the zoneType property.
func FillColorExpression() []any {
	return matchExpression(func(s ZoneStyle) any { return s.Fill }, Fallback.Fill)
}

// StrokeColorExpression is a match expression over the zoneType property.
func StrokeColorExpression() []any {
	return matchExpression(func(s ZoneStyle) any { return s.Stroke }, Fallback.Stroke)
}

// FillOpacityExpression is a match expression over the zoneType property.
func FillOpacityExpression() []any {
	return matchExpression(func(s ZoneStyle) any { return s.FillOpacity }, Fallback.FillOpacity)
}

func matchExpression(pick func(ZoneStyle) any, fallback any) []any {
	expr := []any{"match", []any{"get", feature.PropZoneType}}
	for _, zone := range ZoneTypes() {
		expr = append(expr, zone, pick(zones[zone]))
	}
	return append(expr, fallback)
}
