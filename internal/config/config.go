// Package config loads the YAML configuration of the canvas services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/grid"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/snap"

	"gopkg.in/yaml.v3"
)

// Config represents the root configuration file structure.
type Config struct {
	Attribution    string           `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	DefaultImagery string           `yaml:"default_imagery,omitempty" json:"default_imagery"`
	Imagery        []imagery.Source `yaml:"imagery" json:"imagery"`

	// CacheDir holds tiles as <layer>/<z>/<x>/<y>.webp.
	CacheDir string `yaml:"cache_dir,omitempty" json:"-"`
	// ZonesDir is used when PersistenceURL is empty.
	ZonesDir       string `yaml:"zones_dir,omitempty" json:"-"`
	PersistenceURL string `yaml:"persistence_url,omitempty" json:"-"`
	AnalysisURL    string `yaml:"analysis_url,omitempty" json:"-"`

	Farm    Farm            `yaml:"farm" json:"farm"`
	View    View            `yaml:"view" json:"view"`
	Grid    Grid            `yaml:"grid" json:"grid"`
	Snap    Snap            `yaml:"snap" json:"snap"`
	Editing Editing         `yaml:"editing" json:"editing"`
	Tiles   Tiles           `yaml:"tiles" json:"tiles"`
	Capture capture.Options `yaml:"capture" json:"capture"`
}

// Farm identifies the edited farm. Bounds seed the boundary when the
// persistence collaborator has none yet.
type Farm struct {
	ID     string     `yaml:"id" json:"id"`
	Name   string     `yaml:"name,omitempty" json:"name,omitempty"`
	Bounds geo.Bounds `yaml:"bounds" json:"bounds"`
}

// View is the size and initial camera of the headless map.
type View struct {
	Width   int     `yaml:"width,omitempty" json:"width"`
	Height  int     `yaml:"height,omitempty" json:"height"`
	Zoom    float64 `yaml:"zoom,omitempty" json:"zoom,omitempty"`
	Padding int     `yaml:"padding,omitempty" json:"padding"`
}

// Grid configures the measurement grid.
type Grid struct {
	Unit          string `yaml:"unit,omitempty" json:"unit"`
	Density       string `yaml:"density,omitempty" json:"density"`
	grid.Settings `yaml:",inline" json:"settings"`
}

// Snap configures coordinate snapping.
type Snap struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	snap.Settings `yaml:",inline" json:"settings"`
}

// Editing holds the timers of the editing session.
type Editing struct {
	LabelTimeout     time.Duration `yaml:"label_timeout,omitempty" json:"label_timeout"`
	AutosaveDelay    time.Duration `yaml:"autosave_delay,omitempty" json:"autosave_delay"`
	StyleLoadTimeout time.Duration `yaml:"style_load_timeout,omitempty" json:"style_load_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout,omitempty" json:"idle_timeout"`
	CircleSegments   int           `yaml:"circle_segments,omitempty" json:"circle_segments"`
}

// Tiles configures tile fetching and caching.
type Tiles struct {
	Concurrency int     `yaml:"concurrency,omitempty" json:"concurrency"`
	Quality     float32 `yaml:"quality,omitempty" json:"quality"`
	Offline     bool    `yaml:"offline,omitempty" json:"offline"`
	MinZoom     int     `yaml:"min_zoom,omitempty" json:"min_zoom"`
	MaxZoom     int     `yaml:"max_zoom,omitempty" json:"max_zoom"`
}

// Load reads and parses the YAML configuration file from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates the configuration.
func (c *Config) Normalize() error {
	if len(c.Imagery) == 0 {
		return fmt.Errorf("no imagery layers configured")
	}
	if c.DefaultImagery == "" {
		c.DefaultImagery = c.Imagery[0].Name
	}
	found := false
	for _, s := range c.Imagery {
		if s.Name == c.DefaultImagery {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("default imagery %q is not configured", c.DefaultImagery)
	}

	if c.CacheDir == "" {
		c.CacheDir = "tiles"
	}
	if c.ZonesDir == "" {
		c.ZonesDir = "farms"
	}

	if c.Farm.ID == "" {
		return fmt.Errorf("farm id is required")
	}
	if c.Farm.Bounds != (geo.Bounds{}) && !c.Farm.Bounds.Valid() {
		return fmt.Errorf("farm bounds %s are not valid", c.Farm.Bounds)
	}

	if c.View.Width <= 0 {
		c.View.Width = 1280
	}
	if c.View.Height <= 0 {
		c.View.Height = 800
	}
	if c.View.Padding <= 0 {
		c.View.Padding = 40
	}

	if c.Grid.Unit == "" {
		c.Grid.Unit = string(grid.Imperial)
	}
	if _, err := grid.ParseUnit(c.Grid.Unit); err != nil {
		return err
	}
	if c.Grid.Density == "" {
		c.Grid.Density = string(grid.DensityAuto)
	}
	if _, err := grid.ParseDensity(c.Grid.Density); err != nil {
		return err
	}
	gd := grid.DefaultSettings()
	setDefault(&c.Grid.MinZoom, gd.MinZoom)
	setDefault(&c.Grid.FineZoom, gd.FineZoom)
	setDefault(&c.Grid.PrecisionZoom, gd.PrecisionZoom)
	setDefault(&c.Grid.DimensionZoom, gd.DimensionZoom)
	setDefault(&c.Grid.MaxLabelStep, gd.MaxLabelStep)
	setDefault(&c.Grid.MaxLabels, gd.MaxLabels)
	setDefault(&c.Grid.MaxCellsPerAxis, gd.MaxCellsPerAxis)

	sd := snap.DefaultSettings()
	setDefault(&c.Snap.MinZoom, sd.MinZoom)
	setDefault(&c.Snap.PointerRadius, sd.PointerRadius)
	setDefault(&c.Snap.TouchRadius, sd.TouchRadius)
	if c.Snap.TouchRadius < c.Snap.PointerRadius {
		return fmt.Errorf("snap touch radius %.2f is below pointer radius %.2f", c.Snap.TouchRadius, c.Snap.PointerRadius)
	}

	setDefault(&c.Editing.LabelTimeout, 10*time.Second)
	setDefault(&c.Editing.AutosaveDelay, 2*time.Second)
	setDefault(&c.Editing.StyleLoadTimeout, 10*time.Second)
	setDefault(&c.Editing.IdleTimeout, 10*time.Second)
	setDefault(&c.Editing.CircleSegments, 64)

	setDefault(&c.Tiles.Concurrency, 16)
	setDefault(&c.Tiles.Quality, 80)
	setDefault(&c.Tiles.MaxZoom, 20)

	cd := capture.DefaultOptions()
	setDefault(&c.Capture.ReadyChecks, cd.ReadyChecks)
	setDefault(&c.Capture.ReadyInterval, cd.ReadyInterval)
	setDefault(&c.Capture.TilesTimeout, cd.TilesTimeout)
	setDefault(&c.Capture.FrameTimeout, cd.FrameTimeout)
	setDefault(&c.Capture.MinBytes, cd.MinBytes)
	setDefault(&c.Capture.Attempts, cd.Attempts)
	setDefault(&c.Capture.Format, cd.Format)
	setDefault(&c.Capture.Quality, cd.Quality)
	if c.Capture.Filter.Allow == nil && c.Capture.Filter.Deny == nil {
		c.Capture.Filter = cd.Filter
	}
	if c.Capture.Format != capture.FormatWebP && c.Capture.Format != capture.FormatPNG {
		return fmt.Errorf("capture format %q is not webp or png", c.Capture.Format)
	}

	return nil
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// Catalog builds the imagery catalog.
func (c *Config) Catalog() (*imagery.Catalog, error) {
	return imagery.NewCatalog(c.Imagery, c.Attribution)
}

// GridUnit returns the validated grid unit.
func (c *Config) GridUnit() grid.Unit {
	u, _ := grid.ParseUnit(c.Grid.Unit)
	return u
}

// GridDensity returns the validated grid density.
func (c *Config) GridDensity() grid.Density {
	d, _ := grid.ParseDensity(c.Grid.Density)
	return d
}
