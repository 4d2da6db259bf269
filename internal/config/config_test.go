package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/grid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
imagery:
  - name: satellite
    url: "https://tiles.example/sat/{z}/{x}/{y}"
  - name: topographic
    url: "https://tiles.example/topo/{z}/{x}/{y}"
farm:
  id: f1
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "satellite", cfg.DefaultImagery)
	assert.Equal(t, grid.Imperial, cfg.GridUnit())
	assert.Equal(t, grid.DensityAuto, cfg.GridDensity())
	assert.Equal(t, grid.DefaultSettings(), cfg.Grid.Settings)
	assert.Equal(t, 10*time.Second, cfg.Editing.LabelTimeout)
	assert.Equal(t, 2*time.Second, cfg.Editing.AutosaveDelay)
	assert.Equal(t, 3, cfg.Capture.ReadyChecks)
	assert.Equal(t, 200*time.Millisecond, cfg.Capture.ReadyInterval)
	assert.Equal(t, []string{capture.ZoomControlsOverlay}, cfg.Capture.Filter.Deny)
	assert.Equal(t, 64, cfg.Editing.CircleSegments)

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	src, ok := cat.Get("topographic")
	require.True(t, ok)
	assert.Equal(t, 256, src.TileSize)
}

func TestParseDurationsAndInlineSettings(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
grid:
  unit: metric
  precision_zoom: 17.5
snap:
  enabled: true
  touch_radius: 0.6
capture:
  tiles_timeout: 3s
  format: png
`))
	require.NoError(t, err)

	assert.Equal(t, grid.Metric, cfg.GridUnit())
	assert.InDelta(t, 17.5, cfg.Grid.PrecisionZoom, 1e-9)
	assert.InDelta(t, 20, cfg.Grid.FineZoom, 1e-9)
	assert.True(t, cfg.Snap.Enabled)
	assert.InDelta(t, 0.6, cfg.Snap.TouchRadius, 1e-9)
	assert.InDelta(t, 0.25, cfg.Snap.PointerRadius, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.Capture.TilesTimeout)
	assert.Equal(t, capture.FormatPNG, cfg.Capture.Format)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no imagery":      "farm:\n  id: f1\n",
		"unknown default": minimal + "default_imagery: street\n",
		"no farm":         "imagery:\n  - name: a\n    url: x\n",
		"bad unit":        minimal + "grid:\n  unit: cubits\n",
		"bad density":     minimal + "grid:\n  density: extreme\n",
		"bad bounds":      minimal + "  bounds: {north: 1, south: 2, east: 1, west: 0}\n",
		"bad format":      minimal + "capture:\n  format: gif\n",
		"touch radius":    minimal + "snap:\n  pointer_radius: 0.5\n  touch_radius: 0.3\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Farm.ID)
	assert.True(t, cfg.Farm.Bounds.Valid())
	assert.Len(t, cfg.Imagery, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
