// Package grid builds the alphanumeric measurement grid laid over a farm:
// line geometry across the farm bounds, cell labels for the visible viewport
// and per-feature cell ranges.
//
// Columns are lettered west to east (A..Z, AA, AB, ...) and rows are numbered
// south to north starting at 1, so the south-west cell is "A1". Every function
// in this package is pure.
package grid

import (
	"fmt"
	"math"
	"strconv"

	"github.com/woozymasta/farmcanvas/internal/geo"

	"github.com/paulmach/orb"
)

// Unit selects the measurement system of the grid.
type Unit string

// Supported units.
const (
	Imperial Unit = "imperial"
	Metric   Unit = "metric"
)

// Density controls how many labels are drawn.
type Density string

// Supported densities.
const (
	DensityAuto   Density = "auto"
	DensitySparse Density = "sparse"
	DensityNormal Density = "normal"
	DensityDense  Density = "dense"
	DensityOff    Density = "off"
)

// Subdivision selects coarse cells or fine (halved) cells.
type Subdivision string

// Supported subdivisions.
const (
	Coarse Subdivision = "coarse"
	Fine   Subdivision = "fine"
)

const (
	imperialCellFeet  = 50.0
	metricCellMeters  = 25.0
	defaultMaxPerAxis = 2000
)

// ParseUnit validates a unit name.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case Imperial, Metric:
		return Unit(s), nil
	}
	return "", fmt.Errorf("unknown grid unit %q", s)
}

// ParseDensity validates a density name.
func ParseDensity(s string) (Density, error) {
	switch Density(s) {
	case DensityAuto, DensitySparse, DensityNormal, DensityDense, DensityOff:
		return Density(s), nil
	}
	return "", fmt.Errorf("unknown grid density %q", s)
}

// CellSizeMeters returns the physical edge length of one cell.
func CellSizeMeters(unit Unit, sub Subdivision) float64 {
	size := metricCellMeters
	if unit == Imperial {
		size = imperialCellFeet * geo.FeetToMeters
	}
	if sub == Fine {
		size /= 2
	}
	return size
}

// CellSizeText returns the literal cell size, e.g. "50ft × 50ft".
func CellSizeText(unit Unit, sub Subdivision) string {
	var edge string
	if unit == Imperial {
		edge = formatEdge(imperialCellFeet, sub) + "ft"
	} else {
		edge = formatEdge(metricCellMeters, sub) + "m"
	}
	return edge + " × " + edge
}

func formatEdge(v float64, sub Subdivision) string {
	if sub == Fine {
		v /= 2
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ColumnName converts a zero based column index to letters: 0 is A, 25 is Z,
// 26 is AA.
func ColumnName(i int) string {
	if i < 0 {
		return ""
	}
	var buf []byte
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		buf = append([]byte{byte('A' + (n-1)%26)}, buf...)
	}
	return string(buf)
}

// CellName returns the label of a cell, e.g. "D4".
func CellName(col, row int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// Grid is the lattice anchored at the south-west corner of the farm bounds.
type Grid struct {
	Origin      orb.Point   `json:"origin"`
	DLng        float64     `json:"dlng"`
	DLat        float64     `json:"dlat"`
	Columns     int         `json:"columns"`
	Rows        int         `json:"rows"`
	Unit        Unit        `json:"unit"`
	Subdivision Subdivision `json:"subdivision"`
	Truncated   bool        `json:"truncated,omitempty"`
}

// New lays a grid over the farm bounds. Degree spacing is computed at the
// latitude of the bounds' centre so cells stay square on the ground.
func New(farm geo.Bounds, unit Unit, sub Subdivision) Grid {
	return newGrid(farm, unit, sub, defaultMaxPerAxis)
}

func newGrid(farm geo.Bounds, unit Unit, sub Subdivision, maxPerAxis int) Grid {
	size := CellSizeMeters(unit, sub)
	g := Grid{
		Origin:      orb.Point{farm.West, farm.South},
		DLat:        geo.DegreesLat(size),
		DLng:        geo.DegreesLng(size, farm.Center().Lat()),
		Unit:        unit,
		Subdivision: sub,
	}
	if !farm.Valid() {
		return g
	}

	g.Columns = cellsAcross(farm.East-farm.West, g.DLng)
	g.Rows = cellsAcross(farm.North-farm.South, g.DLat)
	if maxPerAxis > 0 {
		if g.Columns > maxPerAxis {
			g.Columns, g.Truncated = maxPerAxis, true
		}
		if g.Rows > maxPerAxis {
			g.Rows, g.Truncated = maxPerAxis, true
		}
	}

	return g
}

func cellsAcross(span, step float64) int {
	// tolerate float noise so an exact multiple does not grow an extra cell
	n := int(math.Ceil(span/step - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// Extent returns the area covered by whole cells. It always contains the farm
// bounds the grid was built from.
func (g Grid) Extent() geo.Bounds {
	return geo.Bounds{
		West:  g.Origin.Lon(),
		South: g.Origin.Lat(),
		East:  g.Origin.Lon() + float64(g.Columns)*g.DLng,
		North: g.Origin.Lat() + float64(g.Rows)*g.DLat,
	}
}

// Empty reports whether the grid has no cells.
func (g Grid) Empty() bool {
	return g.Columns == 0 || g.Rows == 0
}

// Cell returns the column and row containing p, clamped to the grid. Points
// outside the grid map to the nearest edge cell.
func (g Grid) Cell(p orb.Point) (col, row int) {
	col = int(math.Floor((p.Lon() - g.Origin.Lon()) / g.DLng))
	row = int(math.Floor((p.Lat() - g.Origin.Lat()) / g.DLat))
	return clamp(col, 0, g.Columns-1), clamp(row, 0, g.Rows-1)
}

// CellBounds returns the box of one cell.
func (g Grid) CellBounds(col, row int) geo.Bounds {
	w := g.Origin.Lon() + float64(col)*g.DLng
	s := g.Origin.Lat() + float64(row)*g.DLat
	return geo.Bounds{West: w, South: s, East: w + g.DLng, North: s + g.DLat}
}

// CellCenter returns the centre of one cell.
func (g Grid) CellCenter(col, row int) orb.Point {
	return g.CellBounds(col, row).Center()
}

// Intersection returns the grid intersection at column line i and row line j.
func (g Grid) Intersection(i, j int) orb.Point {
	return orb.Point{g.Origin.Lon() + float64(i)*g.DLng, g.Origin.Lat() + float64(j)*g.DLat}
}

// Range names the cells a geometry occupies, e.g. "C3–D5", or "C3" when it
// fits in a single cell. Only the part inside the grid counts; a geometry
// entirely outside it has no range.
func (g Grid) Range(geom orb.Geometry) string {
	if geom == nil || g.Empty() {
		return ""
	}
	b := geom.Bound()
	ext := g.Extent()
	if b.Max.Lon() < ext.West || b.Min.Lon() > ext.East || b.Max.Lat() < ext.South || b.Min.Lat() > ext.North {
		return ""
	}
	c0, r0 := g.Cell(b.Min)
	c1, r1 := g.Cell(b.Max)
	if c0 == c1 && r0 == r1 {
		return CellName(c0, r0)
	}
	return CellName(c0, r0) + "–" + CellName(c1, r1)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
