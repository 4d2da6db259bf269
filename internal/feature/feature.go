// Package feature holds the editable map features of a farm and the store
// that mediates every change to them.
package feature

import (
	"fmt"

	"github.com/paulmach/orb"
)

// GeometryType is the kind of geometry a feature carries.
type GeometryType string

// Supported geometry types.
const (
	Point      GeometryType = "Point"
	LineString GeometryType = "LineString"
	Polygon    GeometryType = "Polygon"
)

// BoundaryZone is the reserved zone type of the farm boundary.
const BoundaryZone = "farm_boundary"

// DefaultZone is assigned when a new feature is never labelled.
const DefaultZone = "other"

// Feature is one editable map object.
type Feature struct {
	ID       string       `json:"id"`
	Geometry orb.Geometry `json:"-"`
	ZoneType string       `json:"zone_type"`
	Label    string       `json:"label,omitempty"`
}

// GeometryType derives the type from the geometry.
func (f Feature) GeometryType() GeometryType {
	switch f.Geometry.(type) {
	case orb.Point:
		return Point
	case orb.LineString:
		return LineString
	case orb.Polygon:
		return Polygon
	}
	return ""
}

// IsBoundary reports whether the feature is the farm boundary.
func (f Feature) IsBoundary() bool {
	return f.ZoneType == BoundaryZone
}

// Clone returns a deep copy so callers never share coordinate slices with the store.
func (f Feature) Clone() Feature {
	if f.Geometry != nil {
		f.Geometry = orb.Clone(f.Geometry)
	}
	return f
}

// normalizeGeometry validates the geometry and closes polygon rings.
func normalizeGeometry(g orb.Geometry) (orb.Geometry, error) {
	switch v := g.(type) {
	case orb.Point:
		return v, nil
	case orb.LineString:
		if len(v) < 2 {
			return nil, fmt.Errorf("%w: line needs at least 2 points, got %d", ErrInvalidGeometry, len(v))
		}
		return orb.Clone(v), nil
	case orb.Polygon:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
		}
		out := make(orb.Polygon, 0, len(v))
		for i, ring := range v {
			r := append(orb.Ring(nil), ring...)
			if len(r) > 0 && !r.Closed() {
				r = append(r, r[0])
			}
			if len(r) < 4 || distinct(r[:len(r)-1]) < 3 {
				return nil, fmt.Errorf("%w: ring %d needs at least 3 distinct points", ErrInvalidGeometry, i)
			}
			out = append(out, r)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("%w: missing geometry", ErrInvalidGeometry)
	}
	return nil, fmt.Errorf("%w: unsupported geometry %s", ErrInvalidGeometry, g.GeoJSONType())
}

func distinct(pts []orb.Point) int {
	seen := make(map[orb.Point]struct{}, len(pts))
	for _, p := range pts {
		seen[p] = struct{}{}
	}
	return len(seen)
}
