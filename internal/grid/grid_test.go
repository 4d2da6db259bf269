package grid

import (
	"strings"
	"testing"

	"github.com/woozymasta/farmcanvas/internal/geo"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenario = geo.Bounds{North: 10.001, South: 10.000, East: 20.001, West: 20.000}

func TestColumnName(t *testing.T) {
	cases := map[int]string{0: "A", 3: "D", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for i, want := range cases {
		assert.Equal(t, want, ColumnName(i), "index %d", i)
	}
	assert.Equal(t, "D4", CellName(3, 3))
}

func TestCellSize(t *testing.T) {
	assert.InDelta(t, 15.24, CellSizeMeters(Imperial, Coarse), 1e-9)
	assert.InDelta(t, 7.62, CellSizeMeters(Imperial, Fine), 1e-9)
	assert.InDelta(t, 12.5, CellSizeMeters(Metric, Fine), 1e-9)

	assert.Equal(t, "50ft × 50ft", CellSizeText(Imperial, Coarse))
	assert.Equal(t, "25ft × 25ft", CellSizeText(Imperial, Fine))
	assert.Equal(t, "12.5m × 12.5m", CellSizeText(Metric, Fine))
}

func TestCellsAreSquareWithinOnePercent(t *testing.T) {
	farms := []geo.Bounds{
		scenario,
		{North: 0.002, South: 0.0, East: 0.002, West: 0.0},
		{North: 45.003, South: 45.0, East: -93.0, West: -93.004},
		{North: -33.85, South: -33.852, East: 151.212, West: 151.209},
		{North: 64.1302, South: 64.13, East: -21.9, West: -21.905},
	}
	for _, farm := range farms {
		for _, unit := range []Unit{Imperial, Metric} {
			for _, sub := range []Subdivision{Coarse, Fine} {
				for _, zoom := range []float64{15, 18, 21} {
					lines := GenerateGridLines(farm, unit, zoom, DensityNormal, sub)
					require.NotEmpty(t, lines.Lines)

					want := CellSizeMeters(unit, sub)
					g := lines.Grid
					sw := g.Intersection(0, 0)
					width := orbgeo.Distance(sw, g.Intersection(1, 0))
					height := orbgeo.Distance(sw, g.Intersection(0, 1))

					assert.InDelta(t, want, width, want*0.01, "%v %s %s", farm, unit, sub)
					assert.InDelta(t, want, height, want*0.01, "%v %s %s", farm, unit, sub)
				}
			}
		}
	}
}

func TestGridCoversFarm(t *testing.T) {
	g := New(scenario, Imperial, Coarse)
	ext := g.Extent()
	assert.LessOrEqual(t, ext.West, scenario.West)
	assert.LessOrEqual(t, ext.South, scenario.South)
	assert.GreaterOrEqual(t, ext.East, scenario.East)
	assert.GreaterOrEqual(t, ext.North, scenario.North)
}

func TestScenarioIsDeterministic(t *testing.T) {
	vp := geo.Viewport{Bounds: scenario, Zoom: 15}

	first := GenerateGridLines(scenario, Imperial, 15, DensityAuto, Coarse)
	firstLabels := GenerateViewportLabels(scenario, vp, Imperial, 15, DensityAuto, Coarse)

	for i := 0; i < 5; i++ {
		again := GenerateGridLines(scenario, Imperial, 15, DensityAuto, Coarse)
		againLabels := GenerateViewportLabels(scenario, vp, Imperial, 15, DensityAuto, Coarse)
		assert.Equal(t, first, again)
		assert.Equal(t, firstLabels, againLabels)
	}

	assert.Equal(t, 8, first.Grid.Columns)
	assert.Equal(t, 8, first.Grid.Rows)
	assert.Len(t, first.Lines, 18)
	assert.Len(t, firstLabels, 1)
	assert.Equal(t, "A1", firstLabels[0].Text)
}

func TestOffDensityDrawsNothing(t *testing.T) {
	assert.Empty(t, GenerateGridLines(scenario, Metric, 19, DensityOff, Coarse).Lines)
	assert.Empty(t, GenerateViewportLabels(scenario, geo.Viewport{Bounds: scenario}, Metric, 19, DensityOff, Coarse))
}

func TestAutoDensityHidesFarOut(t *testing.T) {
	assert.Empty(t, GenerateGridLines(scenario, Metric, 12, DensityAuto, Coarse).Lines)
	assert.NotEmpty(t, GenerateGridLines(scenario, Metric, 12, DensityNormal, Coarse).Lines)
}

func TestLabelStep(t *testing.T) {
	e := Default
	assert.Equal(t, 1, e.LabelStep(18, DensityAuto))
	assert.Equal(t, 1, e.LabelStep(21, DensityAuto))
	assert.Equal(t, 2, e.LabelStep(17, DensityAuto))
	assert.Equal(t, 4, e.LabelStep(16, DensityNormal))
	assert.Equal(t, 8, e.LabelStep(16, DensitySparse))
	assert.Equal(t, 2, e.LabelStep(16, DensityDense))
	assert.Equal(t, 1, e.LabelStep(18, DensityDense))
	assert.Equal(t, 64, e.LabelStep(2, DensityNormal))
}

func TestLabelsOnlyInViewport(t *testing.T) {
	g := New(scenario, Metric, Coarse)
	cell := g.CellBounds(2, 3)
	vp := geo.Viewport{Bounds: geo.Bounds{
		West:  cell.West + g.DLng*0.1,
		East:  cell.East - g.DLng*0.1,
		South: cell.South + g.DLat*0.1,
		North: cell.North - g.DLat*0.1,
	}}

	labels := GenerateViewportLabels(scenario, vp, Metric, 19, DensityNormal, Coarse)
	require.Len(t, labels, 1)
	assert.Equal(t, "C4", labels[0].Text)
	assert.Equal(t, CellLabel, labels[0].Kind)
}

func TestDimensionLabelOnlyAtTopZoom(t *testing.T) {
	vp := geo.Viewport{Bounds: scenario}

	for _, l := range GenerateViewportLabels(scenario, vp, Imperial, 19, DensityNormal, Coarse) {
		assert.Equal(t, CellLabel, l.Kind)
	}

	labels := GenerateViewportLabels(scenario, vp, Imperial, 20, DensityNormal, Fine)
	var dims []Label
	for _, l := range labels {
		if l.Kind == DimensionLabel {
			dims = append(dims, l)
		}
	}
	require.Len(t, dims, 1)
	assert.Equal(t, "25ft × 25ft", dims[0].Text)
}

func TestLabelCountIsBounded(t *testing.T) {
	e := Default
	e.Settings.MaxLabels = 10
	labels := e.GenerateViewportLabels(scenario, geo.Viewport{Bounds: scenario}, Metric, 21, DensityDense, Fine)
	assert.LessOrEqual(t, len(labels), 11)
	assert.NotEmpty(t, labels)
}

func TestRange(t *testing.T) {
	g := New(scenario, Imperial, Coarse)

	inside := g.CellCenter(2, 2)
	assert.Equal(t, "C3", g.Range(inside))

	poly := orb.Polygon{orb.Ring{
		g.CellCenter(2, 2), g.CellCenter(3, 2), g.CellCenter(3, 4), g.CellCenter(2, 4), g.CellCenter(2, 2),
	}}
	assert.Equal(t, "C3–D5", g.Range(poly))

	far := orb.Point{scenario.East + 1, scenario.North + 1}
	assert.Empty(t, g.Range(far))

	ext := g.Extent()
	straddle := orb.LineString{g.CellCenter(g.Columns-2, 0), {ext.East + 1, g.CellCenter(0, 0).Lat()}}
	assert.Equal(t, CellName(g.Columns-2, 0)+"–"+CellName(g.Columns-1, 0), g.Range(straddle))
}

func TestTruncatedOnHugeBounds(t *testing.T) {
	e := Default
	e.Settings.MaxCellsPerAxis = 50
	lines := e.GenerateGridLines(geo.Bounds{North: 11, South: 10, East: 21, West: 20}, Metric, 16, DensityNormal, Coarse)
	assert.True(t, lines.Grid.Truncated)
	assert.Len(t, lines.Lines, 102)
}

func TestFeatureCollections(t *testing.T) {
	lines := GenerateGridLines(scenario, Imperial, 18, DensityNormal, Coarse)
	fc := lines.FeatureCollection()
	assert.Len(t, fc.Features, len(lines.Lines))

	labels := GenerateViewportLabels(scenario, geo.Viewport{Bounds: scenario}, Imperial, 18, DensityNormal, Coarse)
	lfc := LabelsFeatureCollection(labels)
	require.Len(t, lfc.Features, len(labels))
	assert.Equal(t, "A1", lfc.Features[0].Properties["text"])
}

func TestSVG(t *testing.T) {
	lines := GenerateGridLines(scenario, Imperial, 18, DensityAuto, Coarse)
	require.False(t, lines.Grid.Empty())

	vp := geo.Viewport{Bounds: scenario, Zoom: 20}
	labels := GenerateViewportLabels(scenario, vp, Imperial, 20, DensityAuto, Coarse)
	out := string(lines.SVG(labels, 400))

	assert.True(t, strings.HasPrefix(out, `<svg xmlns="http://www.w3.org/2000/svg" width="400"`))
	assert.Equal(t, len(lines.Lines), strings.Count(out, "<line "))
	assert.Equal(t, len(labels), strings.Count(out, "<text "))
	assert.Contains(t, out, ">A1</text>")
	assert.Contains(t, out, "50ft × 50ft")

	assert.Contains(t, string(Lines{}.SVG(nil, 400)), `width="0"`)
}
