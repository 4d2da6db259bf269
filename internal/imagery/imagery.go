// Package imagery describes base imagery layers. A layer is a raster tile URL
// template plus attribution; switching layers swaps nothing else.
package imagery

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/woozymasta/farmcanvas/internal/geo"
)

// Well known layer names.
const (
	Satellite   = "satellite"
	Topographic = "topographic"
)

// Source is one base imagery layer.
type Source struct {
	Name        string `yaml:"name" json:"name"`
	URL         string `yaml:"url" json:"-"`
	Attribution string `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	TileSize    int    `yaml:"tile_size,omitempty" json:"tile_size"`
	MaxZoom     int    `yaml:"max_zoom,omitempty" json:"max_zoom"`
}

// Templated reports whether the URL has tile placeholders.
func (s Source) Templated() bool {
	return strings.Contains(s.URL, "{z}") || strings.Contains(s.URL, "{x}")
}

// TileURL fills the template for a tile. {tms_y} is the flipped row.
func (s Source) TileURL(c geo.TileCoordinate) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
		"{tms_y}", strconv.Itoa((1<<c.Z)-1-c.Y),
	)
	return r.Replace(s.URL)
}

// CachePath returns where a tile of this layer is stored on disk.
func CachePath(dir, layer string, c geo.TileCoordinate) string {
	return filepath.Join(dir, layer, strconv.Itoa(c.Z), strconv.Itoa(c.X), strconv.Itoa(c.Y)+".webp")
}

// Catalog holds the configured layers in order.
type Catalog struct {
	sources []Source
	byName  map[string]int
}

// NewCatalog validates names and fills defaults.
func NewCatalog(sources []Source, attribution string) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]int, len(sources))}
	for _, s := range sources {
		if s.Name == "" {
			return nil, fmt.Errorf("imagery layer without name")
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("imagery layer %q defined twice", s.Name)
		}
		if s.TileSize <= 0 {
			s.TileSize = 256
		}
		if s.MaxZoom <= 0 {
			s.MaxZoom = 22
		}
		if s.Attribution == "" {
			s.Attribution = attribution
		}
		c.byName[s.Name] = len(c.sources)
		c.sources = append(c.sources, s)
	}
	return c, nil
}

// Get returns a layer by name.
func (c *Catalog) Get(name string) (Source, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Source{}, false
	}
	return c.sources[i], true
}

// Sources returns all layers.
func (c *Catalog) Sources() []Source {
	return append([]Source(nil), c.sources...)
}

// Alternate returns the other layer to fall back to when a tile is missing.
func (c *Catalog) Alternate(name string) (Source, bool) {
	for _, s := range c.sources {
		if s.Name != name {
			return s, true
		}
	}
	return Source{}, false
}
