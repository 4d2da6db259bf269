package capture

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/woozymasta/farmcanvas/internal/style"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Built-in overlay names.
const (
	CompassOverlay      = "compass"
	LegendOverlay       = "legend"
	ZoomControlsOverlay = "zoom-controls"
)

var (
	panel  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xe6}
	ink    = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	accent = color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff}
)

// Compass draws a north arrow in the top right corner.
type Compass struct {
	// Bearing returns the map bearing in degrees. Nil means north up.
	Bearing func() float64
}

// Name implements Overlay.
func (c *Compass) Name() string { return CompassOverlay }

// Draw implements Overlay.
func (c *Compass) Draw(dst *image.RGBA) {
	const r = 16
	b := dst.Bounds()
	cx, cy := float64(b.Max.X-r-10), float64(b.Min.Y+r+10)

	fillRect(dst, image.Rect(int(cx)-r, int(cy)-r, int(cx)+r, int(cy)+r), panel)

	bearing := 0.0
	if c.Bearing != nil {
		bearing = c.Bearing()
	}
	a := -bearing * math.Pi / 180
	rot := func(x, y float64) (float32, float32) {
		return float32(cx + x*math.Cos(a) - y*math.Sin(a)), float32(cy + x*math.Sin(a) + y*math.Cos(a))
	}

	north := [][2]float64{{0, -r + 3}, {5, 0}, {-5, 0}}
	south := [][2]float64{{0, r - 3}, {5, 0}, {-5, 0}}
	fillPath(dst, north, rot, accent)
	fillPath(dst, south, rot, ink)
	drawLabel(dst, "N", int(cx)-3, int(cy)-r-1, ink)
}

// Legend lists zone colours. It is collapsed to a title bar during captures.
type Legend struct {
	mu       sync.Mutex
	expanded bool
	// Zones limits the listed zone types; empty lists all.
	Zones []string
}

// NewLegend creates a legend in the given state.
func NewLegend(expanded bool) *Legend {
	return &Legend{expanded: expanded}
}

// Name implements Overlay.
func (l *Legend) Name() string { return LegendOverlay }

// Expanded implements Collapsible.
func (l *Legend) Expanded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expanded
}

// SetExpanded implements Collapsible.
func (l *Legend) SetExpanded(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expanded = v
}

// Draw implements Overlay.
func (l *Legend) Draw(dst *image.RGBA) {
	const (
		row   = 16
		width = 120
	)
	zones := l.Zones
	if len(zones) == 0 {
		zones = style.ZoneTypes()
	}

	b := dst.Bounds()
	x0, y1 := b.Min.X+10, b.Max.Y-10
	height := row + 4
	if l.Expanded() {
		height += row * len(zones)
	}
	fillRect(dst, image.Rect(x0, y1-height, x0+width, y1), panel)
	drawLabel(dst, "Legend", x0+6, y1-height+row-2, ink)

	if !l.Expanded() {
		return
	}
	for i, z := range zones {
		top := y1 - height + row*(i+1) + 2
		s := style.Lookup(z)
		fillRect(dst, image.Rect(x0+6, top+2, x0+18, top+row-2), style.RGBA(s.Fill, 1))
		drawLabel(dst, z, x0+24, top+row-4, ink)
	}
}

// ZoomControls are the +/- buttons. They are floating chrome and denied by
// the default capture filter.
type ZoomControls struct{}

// Name implements Overlay.
func (ZoomControls) Name() string { return ZoomControlsOverlay }

// Draw implements Overlay.
func (ZoomControls) Draw(dst *image.RGBA) {
	b := dst.Bounds()
	x, y := b.Max.X-36, b.Min.Y+60
	for i, s := range []string{"+", "-"} {
		r := image.Rect(x, y+i*28, x+26, y+i*28+26)
		fillRect(dst, r, panel)
		drawLabel(dst, s, r.Min.X+10, r.Max.Y-8, ink)
	}
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

func fillPath(dst *image.RGBA, pts [][2]float64, tf func(x, y float64) (float32, float32), c color.RGBA) {
	z := vector.NewRasterizer(dst.Rect.Dx(), dst.Rect.Dy())
	z.DrawOp = draw.Over
	for i, p := range pts {
		x, y := tf(p[0], p[1])
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

func drawLabel(dst *image.RGBA, text string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
