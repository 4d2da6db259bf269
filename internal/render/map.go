// Package render is a headless raster map. It composites base imagery tiles
// and the custom paint layers into an RGBA frame and implements the renderer
// contract of the canvas controller, so the design canvas can run and be
// captured server side.
package render

import (
	"context"
	"fmt"
	"image"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/woozymasta/farmcanvas/internal/canvas"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Base layer IDs that exist in every style below the custom layers.
const (
	BackgroundLayer = "background"
	ImageryLayer    = "imagery"
)

// TileSource loads one base imagery tile.
type TileSource interface {
	Fetch(ctx context.Context, src imagery.Source, c geo.TileCoordinate) (image.Image, error)
}

// Options configure a Map.
type Options struct {
	Width  int
	Height int
	Center orb.Point
	Zoom   float64
	// Concurrency bounds parallel tile fetches.
	Concurrency int
	// FetchTimeout bounds one full tile load of the viewport.
	FetchTimeout time.Duration
	// Catalog, when set, supplies a fallback layer for missing tiles.
	Catalog *imagery.Catalog
}

// Map is a headless map surface. It is safe for concurrent use.
type Map struct {
	tiles TileSource
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	width    int
	height   int
	center   orb.Point
	zoom     float64
	moving   bool
	flight   *time.Timer
	src      imagery.Source
	loaded   bool
	loading  bool
	styleGen uint64
	tileGen  uint64
	cache    map[geo.TileCoordinate]image.Image
	layers   []style.Layer
	sources  map[string]*geojson.FeatureCollection
	draw     bool
	waiters  map[canvas.RenderEvent][]chan struct{}
	onMove   []func()
	frameMu  sync.Mutex
	frameBuf *image.RGBA
}

// New creates a map without a style. SetStyle must be called before anything
// is drawn.
func New(tiles TileSource, opts Options) *Map {
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Map{
		tiles:   tiles,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		width:   opts.Width,
		height:  opts.Height,
		center:  opts.Center,
		zoom:    opts.Zoom,
		cache:   make(map[geo.TileCoordinate]image.Image),
		sources: make(map[string]*geojson.FeatureCollection),
		waiters: make(map[canvas.RenderEvent][]chan struct{}),
	}
}

// Close stops background tile loads and camera flights.
func (m *Map) Close() {
	m.mu.Lock()
	if m.flight != nil && m.flight.Stop() {
		// the flight callback will never run
		m.wg.Done()
	}
	m.flight = nil
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// SetStyle swaps the base imagery. Every custom layer, source and the draw
// surface are discarded, like a vector map style swap.
func (m *Map) SetStyle(src imagery.Source) error {
	if src.Name == "" {
		return fmt.Errorf("style without imagery name")
	}

	m.mu.Lock()
	m.styleGen++
	m.tileGen++
	sgen := m.styleGen
	m.src = src
	m.loaded = false
	m.layers = nil
	m.sources = make(map[string]*geojson.FeatureCollection)
	m.draw = false
	clear(m.cache)
	m.mu.Unlock()

	log.Debug().Str("imagery", src.Name).Msg("Loading style")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.mu.Lock()
		if m.styleGen != sgen {
			m.mu.Unlock()
			return
		}
		m.loaded = true
		m.loading = true
		tgen := m.tileGen
		m.fireLocked(canvas.StyleLoad)
		m.mu.Unlock()

		m.loadTiles(tgen)
	}()

	return nil
}

// Once returns a channel closed on the next emission of ev.
func (m *Map) Once(ev canvas.RenderEvent) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.waiters[ev] = append(m.waiters[ev], ch)
	return ch
}

func (m *Map) fireLocked(ev canvas.RenderEvent) {
	for _, ch := range m.waiters[ev] {
		close(ch)
	}
	delete(m.waiters, ev)
}

// StyleLoaded reports whether the current style is usable.
func (m *Map) StyleLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// IsImagerySettled reports that every tile of the viewport is loaded and the
// camera is at rest.
func (m *Map) IsImagerySettled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded && !m.loading && !m.moving
}

// Imagery returns the current base imagery.
func (m *Map) Imagery() imagery.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src
}

// AddLayer registers a custom layer above the existing ones.
func (m *Map) AddLayer(l style.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return fmt.Errorf("layer %s: style is not loaded", l.ID)
	}
	if l.ID == BackgroundLayer || l.ID == ImageryLayer || slices.ContainsFunc(m.layers, func(x style.Layer) bool { return x.ID == l.ID }) {
		return fmt.Errorf("layer %s already exists", l.ID)
	}
	m.layers = append(m.layers, l)
	if _, ok := m.sources[l.Source]; !ok {
		m.sources[l.Source] = geojson.NewFeatureCollection()
	}
	return nil
}

// LayerIDs lists every layer bottom to top, base layers included.
func (m *Map) LayerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{BackgroundLayer, ImageryLayer}
	for _, l := range m.layers {
		ids = append(ids, l.ID)
	}
	return ids
}

// SetSourceData replaces the data of an existing source.
func (m *Map) SetSourceData(source string, fc *geojson.FeatureCollection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[source]; !ok {
		return fmt.Errorf("source %s does not exist", source)
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	m.sources[source] = fc
	return nil
}

// AttachDraw creates the editing surface and its features source.
func (m *Map) AttachDraw() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return fmt.Errorf("draw surface: style is not loaded")
	}
	m.draw = true
	if _, ok := m.sources[style.SourceFeatures]; !ok {
		m.sources[style.SourceFeatures] = geojson.NewFeatureCollection()
	}
	return nil
}

// DrawAttached reports whether the editing surface exists.
func (m *Map) DrawAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draw
}

// OnMove registers a handler called after every camera change.
func (m *Map) OnMove(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMove = append(m.onMove, fn)
}

// Viewport returns the visible bounds and camera.
func (m *Map) Viewport() geo.Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewportLocked()
}

func (m *Map) viewportLocked() geo.Viewport {
	ts := m.tileSizeLocked()
	cx, cy := geo.LngLatToPixel(m.center, m.zoom, ts)
	nw := geo.PixelToLngLat(cx-float64(m.width)/2, cy-float64(m.height)/2, m.zoom, ts)
	se := geo.PixelToLngLat(cx+float64(m.width)/2, cy+float64(m.height)/2, m.zoom, ts)
	return geo.Viewport{
		Bounds: geo.Bounds{North: nw.Lat(), West: nw.Lon(), South: se.Lat(), East: se.Lon()},
		Zoom:   m.zoom,
	}
}

func (m *Map) tileSizeLocked() int {
	if m.src.TileSize > 0 {
		return m.src.TileSize
	}
	return 256
}

// JumpTo moves the camera without animation and reloads the tiles.
func (m *Map) JumpTo(center orb.Point, zoom float64) {
	m.mu.Lock()
	m.center, m.zoom = center, clampZoom(zoom)
	m.tileGen++
	gen := m.tileGen
	loaded := m.loaded
	if loaded {
		m.loading = true
	}
	handlers := m.onMove
	m.mu.Unlock()

	if loaded {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.loadTiles(gen)
		}()
	}
	for _, fn := range handlers {
		fn()
	}
}

// FlyTo animates the camera. The imagery is not settled until the flight
// has landed and its tiles are loaded.
func (m *Map) FlyTo(center orb.Point, zoom float64, d time.Duration) {
	m.mu.Lock()
	if m.flight != nil && m.flight.Stop() {
		m.wg.Done()
	}
	m.moving = true
	m.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer m.wg.Done()
		m.mu.Lock()
		if m.flight != t {
			m.mu.Unlock()
			return
		}
		m.moving = false
		m.flight = nil
		m.mu.Unlock()
		m.JumpTo(center, zoom)
	})
	m.flight = t
	m.mu.Unlock()
}

// FitBounds centres the camera on b at the highest zoom that shows all of it.
// Padding that would leave no room on either axis is ignored.
func (m *Map) FitBounds(b geo.Bounds, padding int) {
	m.mu.Lock()
	ts := m.tileSizeLocked()
	if padding < 0 || 2*padding >= m.width || 2*padding >= m.height {
		padding = 0
	}
	w, h := float64(max(m.width-2*padding, 1)), float64(max(m.height-2*padding, 1))
	m.mu.Unlock()

	x0, y0 := geo.LngLatToPixel(orb.Point{b.West, b.North}, 0, ts)
	x1, y1 := geo.LngLatToPixel(orb.Point{b.East, b.South}, 0, ts)
	dx, dy := math.Max(x1-x0, 1e-12), math.Max(y1-y0, 1e-12)
	zoom := math.Log2(math.Min(w/dx, h/dy))

	m.JumpTo(b.Center(), zoom)
}

// Resize changes the frame size.
func (m *Map) Resize(width, height int) {
	m.mu.Lock()
	if width > 0 {
		m.width = width
	}
	if height > 0 {
		m.height = height
	}
	center, zoom := m.center, m.zoom
	m.mu.Unlock()
	m.JumpTo(center, zoom)
}

func clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 0
	}
	return math.Max(0, math.Min(z, 24))
}

// loadTiles fetches the viewport tiles of one generation and emits idle once
// they are in, unless a newer style or camera change superseded them.
func (m *Map) loadTiles(gen uint64) {
	m.mu.Lock()
	if m.tileGen != gen {
		m.mu.Unlock()
		return
	}
	sgen := m.styleGen
	src := m.src
	vp := m.viewportLocked()
	z := tileZoom(vp.Zoom, src)
	var missing []geo.TileCoordinate
	for _, c := range geo.TilesCovering(vp.Bounds, z) {
		if _, ok := m.cache[c]; !ok {
			missing = append(missing, c)
		}
	}
	m.loading = true
	m.mu.Unlock()

	if m.tiles != nil && len(missing) > 0 {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.FetchTimeout)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.opts.Concurrency)

		for _, c := range missing {
			g.Go(func() error {
				img, err := m.fetchTile(gctx, src, c)
				if err != nil {
					log.Trace().Err(err).Str("imagery", src.Name).Int("z", c.Z).Int("x", c.X).Int("y", c.Y).Msg("Tile unavailable")
					return nil
				}
				m.mu.Lock()
				if m.styleGen == sgen {
					m.cache[c] = img
				}
				m.mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tileGen != gen {
		return
	}
	m.loading = false
	if !m.moving {
		m.fireLocked(canvas.Idle)
	}
	log.Trace().Str("imagery", src.Name).Int("zoom", z).Int("fetched", len(missing)).Msg("Imagery settled")
}

// fetchTile falls back to the alternate layer when the primary has no tile.
func (m *Map) fetchTile(ctx context.Context, src imagery.Source, c geo.TileCoordinate) (image.Image, error) {
	img, err := m.tiles.Fetch(ctx, src, c)
	if err == nil || m.opts.Catalog == nil || ctx.Err() != nil {
		return img, err
	}
	alt, ok := m.opts.Catalog.Alternate(src.Name)
	if !ok {
		return nil, err
	}
	return m.tiles.Fetch(ctx, alt, c)
}

func tileZoom(zoom float64, src imagery.Source) int {
	z := int(math.Floor(zoom))
	if src.MaxZoom > 0 && z > src.MaxZoom {
		z = src.MaxZoom
	}
	return max(z, 0)
}
