package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Background is painted where no tile is available.
var Background = color.RGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 0xff}

// scene is an immutable copy of the map state taken for one frame.
type scene struct {
	width, height int
	zoom          float64
	tileSize      int
	originX       float64
	originY       float64
	vp            geo.Viewport
	src           imagery.Source
	tiles         map[geo.TileCoordinate]image.Image
	layers        []style.Layer
	sources       map[string]*geojson.FeatureCollection
}

func (m *Map) scene() scene {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tileSizeLocked()
	cx, cy := geo.LngLatToPixel(m.center, m.zoom, ts)
	sc := scene{
		width:    m.width,
		height:   m.height,
		zoom:     m.zoom,
		tileSize: ts,
		originX:  cx - float64(m.width)/2,
		originY:  cy - float64(m.height)/2,
		vp:       m.viewportLocked(),
		src:      m.src,
		tiles:    make(map[geo.TileCoordinate]image.Image, len(m.cache)),
		layers:   append([]style.Layer(nil), m.layers...),
		sources:  make(map[string]*geojson.FeatureCollection, len(m.sources)),
	}
	for k, v := range m.cache {
		sc.tiles[k] = v
	}
	for k, v := range m.sources {
		sc.sources[k] = v
	}
	return sc
}

// Render draws a new frame.
func (m *Map) Render() *image.RGBA {
	sc := m.scene()
	dst := image.NewRGBA(image.Rect(0, 0, sc.width, sc.height))
	sc.paint(dst)
	return dst
}

// RequestFrame renders the next frame on the render goroutine and hands it to
// fn. The frame buffer is reused, so the image is only valid inside fn.
func (m *Map) RequestFrame(fn func(frame image.Image)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.frameMu.Lock()
		defer m.frameMu.Unlock()

		sc := m.scene()
		if m.frameBuf == nil || m.frameBuf.Rect.Dx() != sc.width || m.frameBuf.Rect.Dy() != sc.height {
			m.frameBuf = image.NewRGBA(image.Rect(0, 0, sc.width, sc.height))
		}
		sc.paint(m.frameBuf)
		fn(m.frameBuf)
	}()
}

func (sc scene) paint(dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
	sc.paintTiles(dst)
	for _, l := range sc.layers {
		sc.paintLayer(dst, l)
	}
	if sc.src.Attribution != "" {
		drawText(dst, sc.src.Attribution, float64(sc.width)-4, float64(sc.height)-4, alignRight,
			color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xcc})
	}
}

func (sc scene) project(p orb.Point) (float32, float32) {
	x, y := geo.LngLatToPixel(p, sc.zoom, sc.tileSize)
	return float32(x - sc.originX), float32(y - sc.originY)
}

// paintTiles scales the tiles of the nearest integer zoom onto the frame.
func (sc scene) paintTiles(dst *image.RGBA) {
	if len(sc.tiles) == 0 {
		return
	}
	z := tileZoom(sc.zoom, sc.src)
	scale := math.Pow(2, sc.zoom-float64(z)) * float64(sc.tileSize)

	for _, c := range geo.TilesCovering(sc.vp.Bounds, z) {
		img, ok := sc.tiles[c]
		if !ok {
			continue
		}
		x0 := float64(c.X)*scale - sc.originX
		y0 := float64(c.Y)*scale - sc.originY
		r := image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x0+scale)), int(math.Ceil(y0+scale)))
		xdraw.ApproxBiLinear.Scale(dst, r, img, img.Bounds(), draw.Over, nil)
	}
}

func (sc scene) paintLayer(dst *image.RGBA, l style.Layer) {
	fc := sc.sources[l.Source]
	if fc == nil {
		return
	}

	for _, gf := range fc.Features {
		if gf.Geometry == nil {
			continue
		}
		if !l.Filter.Match(asFeature(gf)) {
			continue
		}

		switch l.Type {
		case style.FillLayer:
			col := paintColor(l, "fill-color", "fill-opacity", gf.Properties)
			if col.A == 0 {
				continue
			}
			if poly, ok := gf.Geometry.(orb.Polygon); ok {
				sc.fillPolygon(dst, poly, col)
			}

		case style.LineLayer:
			col := paintColor(l, "line-color", "line-opacity", gf.Properties)
			width := paintFloat(l, "line-width", gf.Properties, 1)
			dash := paintDash(l)
			for _, ls := range lines(gf.Geometry) {
				sc.strokeLine(dst, ls, width, dash, col)
			}

		case style.CircleLayer:
			p, ok := gf.Geometry.(orb.Point)
			if !ok {
				continue
			}
			radius := paintFloat(l, "circle-radius", gf.Properties, 5)
			x, y := sc.project(p)
			if _, ok := l.Paint["circle-stroke-color"]; ok {
				fillCircle(dst, x, y, float32(radius)+1.5, paintColor(l, "circle-stroke-color", "", gf.Properties))
			}
			fillCircle(dst, x, y, float32(radius), paintColor(l, "circle-color", "circle-opacity", gf.Properties))

		case style.SymbolLayer:
			p, ok := gf.Geometry.(orb.Point)
			if !ok {
				continue
			}
			text := gf.Properties.MustString("text", "")
			if text == "" {
				continue
			}
			x, y := sc.project(p)
			drawText(dst, text, float64(x), float64(y), alignCenter,
				paintColor(l, "text-color", "", gf.Properties),
				paintColor(l, "text-halo-color", "", gf.Properties))
		}
	}
}

func asFeature(gf *geojson.Feature) feature.Feature {
	return feature.Feature{
		Geometry: gf.Geometry,
		ZoneType: gf.Properties.MustString(feature.PropZoneType, ""),
	}
}

func lines(g orb.Geometry) []orb.LineString {
	switch v := g.(type) {
	case orb.LineString:
		return []orb.LineString{v}
	case orb.Polygon:
		out := make([]orb.LineString, 0, len(v))
		for _, r := range v {
			out = append(out, orb.LineString(r))
		}
		return out
	case orb.MultiLineString:
		return v
	}
	return nil
}

func newRasterizer(dst *image.RGBA) *vector.Rasterizer {
	z := vector.NewRasterizer(dst.Rect.Dx(), dst.Rect.Dy())
	z.DrawOp = draw.Over
	return z
}

func (sc scene) fillPolygon(dst *image.RGBA, poly orb.Polygon, col color.RGBA) {
	z := newRasterizer(dst)
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		for i, p := range ring {
			x, y := sc.project(p)
			if i == 0 {
				z.MoveTo(x, y)
			} else {
				z.LineTo(x, y)
			}
		}
		z.ClosePath()
	}
	z.Draw(dst, dst.Bounds(), image.NewUniform(col), image.Point{})
}

// strokeLine draws each segment as a quad. dash is in multiples of width.
func (sc scene) strokeLine(dst *image.RGBA, ls orb.LineString, width float64, dash []float64, col color.RGBA) {
	if len(ls) < 2 || col.A == 0 {
		return
	}
	z := newRasterizer(dst)
	half := float32(width / 2)

	pattern := make([]float32, len(dash))
	for i, d := range dash {
		pattern[i] = float32(d * width)
	}
	di, left, on := 0, float32(0), true
	if len(pattern) > 0 {
		left = pattern[0]
	}

	px, py := sc.project(ls[0])
	for _, p := range ls[1:] {
		x, y := sc.project(p)
		dx, dy := x-px, y-py
		length := float32(math.Hypot(float64(dx), float64(dy)))
		if length == 0 {
			continue
		}
		ux, uy := dx/length, dy/length

		if len(pattern) == 0 {
			segment(z, px, py, x, y, ux, uy, half)
		} else {
			var t float32
			for t < length {
				step := min(left, length-t)
				if on {
					segment(z, px+ux*t, py+uy*t, px+ux*(t+step), py+uy*(t+step), ux, uy, half)
				}
				t += step
				left -= step
				if left <= 0 {
					di = (di + 1) % len(pattern)
					left = pattern[di]
					on = !on
				}
			}
		}
		px, py = x, y
	}
	z.Draw(dst, dst.Bounds(), image.NewUniform(col), image.Point{})
}

func segment(z *vector.Rasterizer, x0, y0, x1, y1, ux, uy, half float32) {
	nx, ny := -uy*half, ux*half
	// extend by half a width so joins between segments have no gaps
	x0, y0 = x0-ux*half, y0-uy*half
	x1, y1 = x1+ux*half, y1+uy*half
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}

func fillCircle(dst *image.RGBA, cx, cy, r float32, col color.RGBA) {
	if col.A == 0 || r <= 0 {
		return
	}
	z := newRasterizer(dst)
	const n = 24
	for i := 0; i <= n; i++ {
		a := 2 * math.Pi * float64(i) / n
		x, y := cx+r*float32(math.Cos(a)), cy+r*float32(math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(col), image.Point{})
}

type align int

const (
	alignCenter align = iota
	alignRight
)

// drawText draws a one-line label with a one pixel halo. For alignCenter
// (x, y) is the centre of the text, for alignRight its bottom right corner.
func drawText(dst draw.Image, text string, x, y float64, a align, fg, halo color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Face: face}
	w := d.MeasureString(text).Round()
	m := face.Metrics()

	var ox, oy int
	switch a {
	case alignCenter:
		ox = int(math.Round(x)) - w/2
		oy = int(math.Round(y)) + (m.Ascent.Round()-m.Descent.Round())/2
	case alignRight:
		ox = int(math.Round(x)) - w
		oy = int(math.Round(y)) - m.Descent.Round()
	}

	if halo.A > 0 {
		d.Src = image.NewUniform(halo)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				d.Dot = fixed.P(ox+dx, oy+dy)
				d.DrawString(text)
			}
		}
	}
	d.Src = image.NewUniform(fg)
	d.Dot = fixed.P(ox, oy)
	d.DrawString(text)
}
