package canvas

import (
	"fmt"

	"github.com/woozymasta/farmcanvas/internal/feature"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// SelectTool enters drawing with the given tool. ToolNone returns to idle and
// discards an unfinished shape.
func (c *Controller) SelectTool(t Tool) error {
	if t != ToolNone {
		if _, ok := ParseTool(string(t)); !ok {
			return fmt.Errorf("unknown draw tool %q", t)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.draft = nil
	if c.selected != "" {
		c.deselectLocked()
	}
	if t == ToolNone {
		c.setStateLocked(StateIdle, ToolNone)
		return nil
	}
	c.setStateLocked(StateDrawing, t)
	return nil
}

// Click adds a vertex with the active tool. Points are committed at once; a
// circle is committed on the second click, which sets its radius.
func (c *Controller) Click(p orb.Point, touch bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDrawing {
		return "", ErrNotDrawing
	}

	p = c.snapPoint(p, touch)
	switch c.tool {
	case ToolPoint:
		return c.commitLocked(p)

	case ToolCircle:
		c.draft = append(c.draft, p)
		if len(c.draft) < 2 {
			return "", nil
		}
		radius := orbgeo.Distance(c.draft[0], c.draft[1])
		if radius <= 0 {
			c.draft = c.draft[:1]
			return "", fmt.Errorf("%w: circle needs a radius", ErrTooFewVertices)
		}
		return c.commitLocked(Circle(c.draft[0], radius, c.opts.CircleSegments))
	}

	c.draft = append(c.draft, p)
	return "", nil
}

// Finish commits the line or polygon being drawn.
func (c *Controller) Finish() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDrawing {
		return "", ErrNotDrawing
	}

	switch c.tool {
	case ToolLine:
		if len(c.draft) < 2 {
			return "", fmt.Errorf("%w: line needs 2, have %d", ErrTooFewVertices, len(c.draft))
		}
		return c.commitLocked(orb.LineString(c.draft))
	case ToolPolygon:
		if len(c.draft) < 3 {
			return "", fmt.Errorf("%w: polygon needs 3, have %d", ErrTooFewVertices, len(c.draft))
		}
		return c.commitLocked(orb.Polygon{orb.Ring(c.draft)})
	}
	return "", fmt.Errorf("%w: tool %q finishes on click", ErrTooFewVertices, c.tool)
}

// Cancel drops the unfinished shape and returns to idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.draft = nil
	c.deselectLocked()
	c.setStateLocked(StateIdle, ToolNone)
}

func (c *Controller) commitLocked(geom orb.Geometry) (string, error) {
	c.draft = nil
	id, err := c.store.Create(feature.Feature{Geometry: geom})
	if err != nil {
		return "", err
	}
	c.setStateLocked(StateIdle, ToolNone)
	return id, nil
}

// Circle approximates a circle of radius meters around center with a closed
// polygon of the given number of segments.
func Circle(center orb.Point, radius float64, segments int) orb.Polygon {
	if segments < 3 {
		segments = 3
	}
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := 360 * float64(i) / float64(segments)
		ring = append(ring, orbgeo.PointAtBearingAndDistance(center, bearing, radius))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func moveVertex(g orb.Geometry, ring, index int, p orb.Point) (orb.Geometry, error) {
	switch v := orb.Clone(g).(type) {
	case orb.Point:
		return p, nil

	case orb.LineString:
		if index < 0 || index >= len(v) {
			return nil, fmt.Errorf("%w: vertex %d out of range", feature.ErrInvalidGeometry, index)
		}
		v[index] = p
		return v, nil

	case orb.Polygon:
		if ring < 0 || ring >= len(v) {
			return nil, fmt.Errorf("%w: ring %d out of range", feature.ErrInvalidGeometry, ring)
		}
		r := v[ring]
		last := len(r) - 1
		if r.Closed() {
			last--
		}
		if index < 0 || index > last {
			return nil, fmt.Errorf("%w: vertex %d out of range", feature.ErrInvalidGeometry, index)
		}
		r[index] = p
		// keep the ring closed when the first vertex moves
		if index == 0 && len(r) > 1 && last == len(r)-2 {
			r[len(r)-1] = p
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %T", feature.ErrInvalidGeometry, g)
}
