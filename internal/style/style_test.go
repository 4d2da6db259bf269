package style

import (
	"image/color"
	"testing"

	"github.com/woozymasta/farmcanvas/internal/feature"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFallsBack(t *testing.T) {
	assert.Equal(t, "#3b82f6", FillColorFor("water"))
	assert.Equal(t, Fallback.Fill, FillColorFor("moon-base"))
	assert.Equal(t, Fallback.Stroke, StrokeColorFor(""))
	assert.Equal(t, Fallback.FillOpacity, FillOpacityFor(feature.BoundaryZone))
	assert.False(t, Known(feature.BoundaryZone))
}

func TestRGBA(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, RGBA("#ffffff", 1))
	assert.Equal(t, color.RGBA{R: 128, G: 0, B: 0, A: 128}, RGBA("#ff0000", 0.5))
	assert.Equal(t, color.RGBA{}, RGBA("#ff0000", -1))
	assert.Equal(t, RGBA(Fallback.Fill, 1), RGBA("not-a-colour", 1))
}

func TestBoundaryHasItsOwnStyle(t *testing.T) {
	b := feature.Feature{ZoneType: feature.BoundaryZone, Geometry: orb.Polygon{}}
	assert.Equal(t, color.RGBA{}, FeatureFill(b))
	assert.Equal(t, RGBA(Boundary.Line, 1), FeatureStroke(b))
}

func TestLayersFollowOrder(t *testing.T) {
	layers := Layers()
	require.Len(t, layers, len(Order))
	for i, l := range layers {
		assert.Equal(t, Order[i], l.ID)
	}
	assert.Equal(t, LayerGridLabels, layers[len(layers)-1].ID)
}

func TestFiltersSeparateBoundary(t *testing.T) {
	boundary := feature.Feature{ZoneType: feature.BoundaryZone, Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	zone := feature.Feature{ZoneType: "garden", Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	tree := feature.Feature{ZoneType: "tree", Geometry: orb.Point{0, 0}}

	byID := map[string]Layer{}
	for _, l := range Layers() {
		byID[l.ID] = l
	}

	assert.True(t, byID[LayerBoundaryLine].Filter.Match(boundary))
	assert.False(t, byID[LayerBoundaryLine].Filter.Match(zone))
	assert.True(t, byID[LayerZoneFill].Filter.Match(zone))
	assert.False(t, byID[LayerZoneFill].Filter.Match(boundary))
	assert.True(t, byID[LayerPoints].Filter.Match(tree))
	assert.False(t, byID[LayerLines].Filter.Match(tree))
}

func TestMatchExpressionShape(t *testing.T) {
	expr := FillColorExpression()
	assert.Equal(t, "match", expr[0])
	assert.Equal(t, []any{"get", feature.PropZoneType}, expr[1])
	assert.Equal(t, Fallback.Fill, expr[len(expr)-1])
	assert.Len(t, expr, 3+2*len(ZoneTypes()))
}
