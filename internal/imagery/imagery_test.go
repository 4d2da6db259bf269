package imagery

import (
	"path/filepath"
	"testing"

	"github.com/woozymasta/farmcanvas/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileURL(t *testing.T) {
	s := Source{URL: "https://tiles.example/{z}/{x}/{y}.jpg"}
	assert.True(t, s.Templated())
	assert.Equal(t, "https://tiles.example/3/4/5.jpg", s.TileURL(geo.TileCoordinate{Z: 3, X: 4, Y: 5}))

	tms := Source{URL: "https://tms.example/{z}/{x}/{tms_y}.png"}
	assert.Equal(t, "https://tms.example/3/4/2.png", tms.TileURL(geo.TileCoordinate{Z: 3, X: 4, Y: 5}))

	assert.False(t, Source{URL: "/srv/ortho.tif"}.Templated())
}

func TestCachePath(t *testing.T) {
	got := CachePath("cache", Satellite, geo.TileCoordinate{Z: 18, X: 1, Y: 2})
	assert.Equal(t, filepath.Join("cache", "satellite", "18", "1", "2.webp"), got)
}

func TestCatalog(t *testing.T) {
	c, err := NewCatalog([]Source{
		{Name: Satellite, URL: "a/{z}/{x}/{y}"},
		{Name: Topographic, URL: "b/{z}/{x}/{y}", Attribution: "OpenTopoMap"},
	}, "© contributors")
	require.NoError(t, err)

	sat, ok := c.Get(Satellite)
	require.True(t, ok)
	assert.Equal(t, 256, sat.TileSize)
	assert.Equal(t, "© contributors", sat.Attribution)

	alt, ok := c.Alternate(Satellite)
	require.True(t, ok)
	assert.Equal(t, Topographic, alt.Name)

	_, ok = c.Get("street")
	assert.False(t, ok)

	_, err = NewCatalog([]Source{{Name: "a"}, {Name: "a"}}, "")
	assert.Error(t, err)
}
