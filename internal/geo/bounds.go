package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Bounds is a north/south/east/west box in WGS84 degrees.
type Bounds struct {
	North float64 `json:"north" yaml:"north"`
	South float64 `json:"south" yaml:"south"`
	East  float64 `json:"east" yaml:"east"`
	West  float64 `json:"west" yaml:"west"`
}

// BoundsFromOrb converts an orb.Bound.
func BoundsFromOrb(b orb.Bound) Bounds {
	return Bounds{North: b.Max.Lat(), South: b.Min.Lat(), East: b.Max.Lon(), West: b.Min.Lon()}
}

// Orb converts the bounds to an orb.Bound.
func (b Bounds) Orb() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// Valid reports whether the box has positive extent.
func (b Bounds) Valid() bool {
	return b.North > b.South && b.East > b.West
}

// Center returns the middle of the box.
func (b Bounds) Center() orb.Point {
	return orb.Point{(b.West + b.East) / 2, (b.South + b.North) / 2}
}

// Intersect returns the overlap of two boxes and whether it is non-empty.
func (b Bounds) Intersect(o Bounds) (Bounds, bool) {
	r := Bounds{
		North: min(b.North, o.North),
		South: max(b.South, o.South),
		East:  min(b.East, o.East),
		West:  max(b.West, o.West),
	}
	return r, r.Valid()
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p orb.Point) bool {
	return p.Lat() <= b.North && p.Lat() >= b.South && p.Lon() <= b.East && p.Lon() >= b.West
}

func (b Bounds) String() string {
	return fmt.Sprintf("N%.6f S%.6f E%.6f W%.6f", b.North, b.South, b.East, b.West)
}

// Viewport is the camera state read from the renderer each frame.
type Viewport struct {
	Bounds  Bounds  `json:"bounds"`
	Zoom    float64 `json:"zoom"`
	Bearing float64 `json:"bearing"`
	Pitch   float64 `json:"pitch"`
}
