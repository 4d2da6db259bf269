package grid

import (
	"math"

	"github.com/woozymasta/farmcanvas/internal/geo"

	"github.com/paulmach/orb"
)

// Settings holds the zoom thresholds of the grid. They are tuned for label
// legibility and are configuration, not invariants.
type Settings struct {
	// MinZoom hides the grid below this zoom in auto density.
	MinZoom float64 `yaml:"min_zoom" json:"min_zoom"`
	// FineZoom switches to fine subdivision.
	FineZoom float64 `yaml:"fine_zoom" json:"fine_zoom"`
	// PrecisionZoom is where every cell is labelled.
	PrecisionZoom float64 `yaml:"precision_zoom" json:"precision_zoom"`
	// DimensionZoom is where the cell size label appears.
	DimensionZoom float64 `yaml:"dimension_zoom" json:"dimension_zoom"`
	// MaxLabelStep caps label decimation at low zoom.
	MaxLabelStep int `yaml:"max_label_step" json:"max_label_step"`
	// MaxLabels bounds the labels emitted for one viewport.
	MaxLabels int `yaml:"max_labels" json:"max_labels"`
	// MaxCellsPerAxis bounds line generation on huge bounds.
	MaxCellsPerAxis int `yaml:"max_cells_per_axis" json:"max_cells_per_axis"`
}

// DefaultSettings returns the thresholds used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MinZoom:         14,
		FineZoom:        20,
		PrecisionZoom:   18,
		DimensionZoom:   20,
		MaxLabelStep:    64,
		MaxLabels:       400,
		MaxCellsPerAxis: defaultMaxPerAxis,
	}
}

// Engine generates grid geometry with a fixed set of thresholds.
type Engine struct {
	Settings Settings
}

// Default is the engine used by the package level helpers.
var Default = Engine{Settings: DefaultSettings()}

// Line is one grid line.
type Line struct {
	Vertical    bool           `json:"vertical"`
	Index       int            `json:"index"`
	Coordinates orb.LineString `json:"coordinates"`
}

// Lines is the full line set of a farm grid.
type Lines struct {
	Grid  Grid   `json:"grid"`
	Lines []Line `json:"lines"`
}

// LabelKind distinguishes cell labels from the dimension label.
type LabelKind string

// Label kinds.
const (
	CellLabel      LabelKind = "cell"
	DimensionLabel LabelKind = "dimension"
)

// Label is a text anchored at a position.
type Label struct {
	Kind     LabelKind `json:"kind"`
	Text     string    `json:"text"`
	Position orb.Point `json:"position"`
	Column   int       `json:"column"`
	Row      int       `json:"row"`
}

// SubdivisionFor derives the subdivision from the zoom.
func (e Engine) SubdivisionFor(zoom float64) Subdivision {
	if zoom >= e.Settings.FineZoom {
		return Fine
	}
	return Coarse
}

// Visible reports whether the grid is drawn at all.
func (e Engine) Visible(zoom float64, density Density) bool {
	switch density {
	case DensityOff:
		return false
	case DensityAuto, "":
		return zoom >= e.Settings.MinZoom
	}
	return true
}

// GenerateGridLines covers the entire farm bounds with lines so the grid does
// not move while panning.
func (e Engine) GenerateGridLines(farm geo.Bounds, unit Unit, zoom float64, density Density, sub Subdivision) Lines {
	g := newGrid(farm, unit, sub, e.Settings.MaxCellsPerAxis)
	out := Lines{Grid: g}
	if g.Empty() || !e.Visible(zoom, density) {
		return out
	}

	ext := g.Extent()
	out.Lines = make([]Line, 0, g.Columns+g.Rows+2)
	for i := 0; i <= g.Columns; i++ {
		lng := g.Origin.Lon() + float64(i)*g.DLng
		out.Lines = append(out.Lines, Line{
			Vertical:    true,
			Index:       i,
			Coordinates: orb.LineString{{lng, ext.South}, {lng, ext.North}},
		})
	}
	for j := 0; j <= g.Rows; j++ {
		lat := g.Origin.Lat() + float64(j)*g.DLat
		out.Lines = append(out.Lines, Line{
			Index:       j,
			Coordinates: orb.LineString{{ext.West, lat}, {ext.East, lat}},
		})
	}

	return out
}

// LabelStep returns N where only every Nth column and row is labelled.
// It doubles for each zoom level below the precision zoom.
func (e Engine) LabelStep(zoom float64, density Density) int {
	step := 1
	if zoom < e.Settings.PrecisionZoom {
		levels := int(math.Ceil(e.Settings.PrecisionZoom - zoom))
		step = 1 << min(levels, 30)
	}

	switch density {
	case DensitySparse:
		step *= 2
	case DensityDense:
		step /= 2
	}

	if step < 1 {
		step = 1
	}
	if e.Settings.MaxLabelStep > 0 && step > e.Settings.MaxLabelStep {
		step = e.Settings.MaxLabelStep
	}
	return step
}

// GenerateViewportLabels labels only the cells visible in the viewport.
// The dimension label is added at DimensionZoom and above.
func (e Engine) GenerateViewportLabels(farm geo.Bounds, vp geo.Viewport, unit Unit, zoom float64, density Density, sub Subdivision) []Label {
	g := newGrid(farm, unit, sub, e.Settings.MaxCellsPerAxis)
	if g.Empty() || !e.Visible(zoom, density) {
		return nil
	}

	visible, ok := g.Extent().Intersect(vp.Bounds)
	if !ok {
		return nil
	}

	c0, r0 := g.Cell(orb.Point{visible.West, visible.South})
	c1, r1 := g.Cell(orb.Point{visible.East, visible.North})

	step := e.LabelStep(zoom, density)
	for e.Settings.MaxLabels > 0 && countAligned(c0, c1, step)*countAligned(r0, r1, step) > e.Settings.MaxLabels {
		step *= 2
	}

	labels := make([]Label, 0, countAligned(c0, c1, step)*countAligned(r0, r1, step)+1)
	for col := alignUp(c0, step); col <= c1; col += step {
		for row := alignUp(r0, step); row <= r1; row += step {
			labels = append(labels, Label{
				Kind:     CellLabel,
				Text:     CellName(col, row),
				Position: g.CellCenter(col, row),
				Column:   col,
				Row:      row,
			})
		}
	}

	if zoom >= e.Settings.DimensionZoom {
		col, row := g.Cell(visible.Center())
		cell := g.CellBounds(col, row)
		labels = append(labels, Label{
			Kind:     DimensionLabel,
			Text:     CellSizeText(unit, sub),
			Position: orb.Point{cell.Center().Lon(), cell.South + g.DLat*0.15},
			Column:   col,
			Row:      row,
		})
	}

	return labels
}

func alignUp(v, step int) int {
	if r := v % step; r != 0 {
		return v + step - r
	}
	return v
}

func countAligned(lo, hi, step int) int {
	first := alignUp(lo, step)
	if first > hi {
		return 0
	}
	return (hi-first)/step + 1
}

// GenerateGridLines uses the default engine.
func GenerateGridLines(farm geo.Bounds, unit Unit, zoom float64, density Density, sub Subdivision) Lines {
	return Default.GenerateGridLines(farm, unit, zoom, density, sub)
}

// GenerateViewportLabels uses the default engine.
func GenerateViewportLabels(farm geo.Bounds, vp geo.Viewport, unit Unit, zoom float64, density Density, sub Subdivision) []Label {
	return Default.GenerateViewportLabels(farm, vp, unit, zoom, density, sub)
}
