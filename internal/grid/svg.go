package grid

import (
	"bytes"
	"fmt"
	"html"
)

// SVG draws the lines and labels as a standalone document width pixels wide.
// Cells come out square; the height follows from the row count.
func (l Lines) SVG(labels []Label, width int) []byte {
	var b bytes.Buffer
	g := l.Grid
	if g.Empty() || width <= 0 {
		b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="0" height="0"></svg>`)
		return b.Bytes()
	}

	cell := float64(width) / float64(g.Columns)
	height := cell * float64(g.Rows)
	x := func(lng float64) float64 { return (lng - g.Origin.Lon()) / g.DLng * cell }
	y := func(lat float64) float64 { return height - (lat-g.Origin.Lat())/g.DLat*cell }

	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%.0f" viewBox="0 0 %d %.2f">`,
		width, height, width, height)
	b.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)

	b.WriteString(`<g stroke="#1f2937" stroke-width="1" fill="none">`)
	for _, ln := range l.Lines {
		if len(ln.Coordinates) < 2 {
			continue
		}
		a, z := ln.Coordinates[0], ln.Coordinates[len(ln.Coordinates)-1]
		fmt.Fprintf(&b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f"/>`,
			x(a.Lon()), y(a.Lat()), x(z.Lon()), y(z.Lat()))
	}
	b.WriteString(`</g>`)

	if len(labels) > 0 {
		size := min(cell*0.3, 14)
		fmt.Fprintf(&b, `<g font-family="monospace" font-size="%.1f" text-anchor="middle" dominant-baseline="middle">`, size)
		for _, lb := range labels {
			fill := "#111827"
			if lb.Kind == DimensionLabel {
				fill = "#b91c1c"
			}
			fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s">%s</text>`,
				x(lb.Position.Lon()), y(lb.Position.Lat()), fill, html.EscapeString(lb.Text))
		}
		b.WriteString(`</g>`)
	}

	b.WriteString(`</svg>`)
	return b.Bytes()
}
