package snap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/grid"

	"github.com/stretchr/testify/assert"
)

var farm = geo.Bounds{North: 10.001, South: 10.000, East: 20.001, West: 20.000}

func TestDisabledReturnsInput(t *testing.T) {
	g := grid.New(farm, grid.Imperial, grid.Fine)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		lng := 20 + rng.Float64()*0.001
		lat := 10 + rng.Float64()*0.001
		r := SnapCoordinate(lng, lat, g, 21, false, rng.Intn(2) == 0)
		assert.Equal(t, Result{Lng: lng, Lat: lat}, r)
	}
}

func TestEnabledStaysWithinOneCellDiagonal(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, unit := range []grid.Unit{grid.Imperial, grid.Metric} {
		g := grid.New(farm, unit, grid.Fine)
		for i := 0; i < 500; i++ {
			lng := 20 + rng.Float64()*0.001
			lat := 10 + rng.Float64()*0.001
			r := SnapCoordinate(lng, lat, g, 20+rng.Float64()*2, true, rng.Intn(2) == 0)

			du := (r.Lng - lng) / g.DLng
			dv := (r.Lat - lat) / g.DLat
			assert.LessOrEqual(t, math.Hypot(du, dv), math.Sqrt2)
		}
	}
}

func TestSnapsToNearestIntersection(t *testing.T) {
	g := grid.New(farm, grid.Metric, grid.Coarse)
	target := g.Intersection(2, 3)

	r := SnapCoordinate(target.Lon()+g.DLng*0.1, target.Lat()-g.DLat*0.1, g, 20, true, false)
	assert.True(t, r.Snapped)
	assert.InDelta(t, target.Lon(), r.Lng, 1e-12)
	assert.InDelta(t, target.Lat(), r.Lat, 1e-12)
}

func TestTouchHasWiderRadius(t *testing.T) {
	g := grid.New(farm, grid.Metric, grid.Coarse)
	target := g.Intersection(1, 1)
	lng, lat := target.Lon()+g.DLng*0.35, target.Lat()

	assert.False(t, SnapCoordinate(lng, lat, g, 20, true, false).Snapped)
	assert.True(t, SnapCoordinate(lng, lat, g, 20, true, true).Snapped)
}

func TestInactiveBelowPrecisionTier(t *testing.T) {
	g := grid.New(farm, grid.Metric, grid.Coarse)
	p := g.Intersection(1, 1)
	r := SnapCoordinate(p.Lon()+1e-7, p.Lat(), g, 19.9, true, false)
	assert.False(t, r.Snapped)
	assert.Equal(t, p.Lon()+1e-7, r.Lng)
}

func TestCellCentreDoesNotSnap(t *testing.T) {
	g := grid.New(farm, grid.Metric, grid.Coarse)
	c := g.CellCenter(1, 1)
	r := SnapCoordinate(c.Lon(), c.Lat(), g, 21, true, true)
	assert.False(t, r.Snapped)
}

func TestModifier(t *testing.T) {
	var m Modifier
	assert.True(t, m.Enabled(true))
	m.Press()
	assert.False(t, m.Enabled(true))
	m.Release()
	assert.True(t, m.Enabled(true))
	assert.False(t, m.Enabled(false))
}
