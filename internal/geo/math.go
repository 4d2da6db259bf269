// Package geo handles coordinate conversions between WGS84, metric distances
// and the Web Mercator tile pyramid.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// MaxLat is the latitude limit of the Web Mercator projection.
const MaxLat = 85.05112878

// MetersPerDegree is the length of one degree of latitude, and of longitude on
// the equator, on the sphere used by orb/geo.
const MetersPerDegree = orb.EarthRadius * math.Pi / 180.0

// FeetToMeters converts international feet to metres.
const FeetToMeters = 0.3048

// DegreesLat returns how many degrees of latitude span the given metres.
func DegreesLat(meters float64) float64 {
	return meters / MetersPerDegree
}

// DegreesLng returns how many degrees of longitude span the given metres at
// the given latitude. Longitude degrees shrink with cos(latitude).
func DegreesLng(meters, lat float64) float64 {
	c := math.Cos(clampLat(lat) * math.Pi / 180.0)
	if c < 1e-9 {
		c = 1e-9
	}
	return meters / (MetersPerDegree * c)
}

// WorldSize returns the size in pixels of the whole world at zoom z.
func WorldSize(zoom float64, tileSize int) float64 {
	return float64(tileSize) * math.Pow(2, zoom)
}

// LngLatToPixel projects a WGS84 point to global Web Mercator pixels.
func LngLatToPixel(p orb.Point, zoom float64, tileSize int) (x, y float64) {
	size := WorldSize(zoom, tileSize)
	lat := clampLat(p.Lat()) * math.Pi / 180.0

	x = (p.Lon() + 180.0) / 360.0 * size
	y = (1.0 - math.Log(math.Tan(lat)+1.0/math.Cos(lat))/math.Pi) / 2.0 * size
	return x, y
}

// PixelToLngLat is the inverse of LngLatToPixel.
func PixelToLngLat(x, y, zoom float64, tileSize int) orb.Point {
	size := WorldSize(zoom, tileSize)
	lon := x/size*360.0 - 180.0

	// Inverse Mercator projection
	mercatorY := math.Pi * (1.0 - 2.0*y/size)
	lat := math.Atan(math.Sinh(mercatorY)) * (180.0 / math.Pi)

	return orb.Point{lon, clampLat(lat)}
}

// TileCoordinate represents a specific tile.
type TileCoordinate struct {
	Z, X, Y int
}

// TilesCovering lists every tile at zoom z intersecting the bounds.
func TilesCovering(b Bounds, z int) []TileCoordinate {
	x0, y0 := LngLatToPixel(orb.Point{b.West, b.North}, float64(z), 1)
	x1, y1 := LngLatToPixel(orb.Point{b.East, b.South}, float64(z), 1)

	limit := (1 << z) - 1
	minX, maxX := clampInt(int(math.Floor(x0)), 0, limit), clampInt(int(math.Floor(x1)), 0, limit)
	minY, maxY := clampInt(int(math.Floor(y0)), 0, limit), clampInt(int(math.Floor(y1)), 0, limit)

	tiles := make([]TileCoordinate, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, TileCoordinate{Z: z, X: x, Y: y})
		}
	}

	return tiles
}

func clampLat(lat float64) float64 {
	if lat > MaxLat {
		return MaxLat
	} else if lat < -MaxLat {
		return -MaxLat
	}
	return lat
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
