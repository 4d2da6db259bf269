package capture

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"slices"
	"sync"
)

// Overlay is a UI element drawn above the map in a capture.
type Overlay interface {
	Name() string
	Draw(dst *image.RGBA)
}

// Collapsible is an overlay with a transient expanded state.
type Collapsible interface {
	Overlay
	Expanded() bool
	SetExpanded(bool)
}

// Stage holds the visual tree the compositor flattens: the live map canvas,
// temporary image nodes mounted beneath it and the overlays above it.
type Stage interface {
	Mount(img image.Image) (string, error)
	Unmount(id string)
	HideCanvas()
	ShowCanvas()
	Overlays() []Overlay
	Flatten(keep func(Overlay) bool) (*image.RGBA, error)
}

type mounted struct {
	id  string
	img *image.RGBA
}

// Scene is the in-memory Stage.
type Scene struct {
	mu       sync.Mutex
	width    int
	height   int
	hidden   bool
	seq      int
	nodes    []mounted
	overlays []Overlay
}

// NewScene creates a stage of the given size.
func NewScene(width, height int, overlays ...Overlay) *Scene {
	return &Scene{width: width, height: height, overlays: overlays}
}

// AddOverlay puts an overlay on top of the existing ones.
func (s *Scene) AddOverlay(o Overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays = append(s.overlays, o)
}

// Overlays returns the overlays bottom to top.
func (s *Scene) Overlays() []Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.overlays)
}

// Mount copies img into a temporary image node below the canvas.
func (s *Scene) Mount(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("mount: empty image")
	}
	cp := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(cp, cp.Bounds(), img, img.Bounds().Min, draw.Src)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("capture-img-%d", s.seq)
	s.nodes = append(s.nodes, mounted{id: id, img: cp})
	return id, nil
}

// Unmount removes a temporary node. Unknown IDs are ignored.
func (s *Scene) Unmount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = slices.DeleteFunc(s.nodes, func(n mounted) bool { return n.id == id })
}

// HideCanvas hides the live canvas.
func (s *Scene) HideCanvas() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = true
}

// ShowCanvas restores the live canvas.
func (s *Scene) ShowCanvas() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = false
}

// CanvasHidden reports whether the live canvas is hidden.
func (s *Scene) CanvasHidden() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hidden
}

// Residual counts temporary nodes still mounted.
func (s *Scene) Residual() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Flatten draws mounted images and the kept overlays into one image. The
// live canvas contributes nothing: its drawing buffer is not readable outside
// a frame callback, which is why frames are mounted as images first.
func (s *Scene) Flatten(keep func(Overlay) bool) (*image.RGBA, error) {
	s.mu.Lock()
	nodes := slices.Clone(s.nodes)
	overlays := slices.Clone(s.overlays)
	w, h := s.width, s.height
	s.mu.Unlock()

	if len(nodes) > 0 && (w <= 0 || h <= 0) {
		b := nodes[0].img.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	if w <= 0 || h <= 0 {
		return nil, errors.New("flatten: stage has no size")
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for _, n := range nodes {
		draw.Draw(out, out.Bounds(), n.img, image.Point{}, draw.Over)
	}
	for _, o := range overlays {
		if keep == nil || keep(o) {
			o.Draw(out)
		}
	}
	return out, nil
}

// Filter keeps overlays by name. An empty allow list keeps everything not
// denied.
type Filter struct {
	Allow []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// Keep implements the allow/deny decision.
func (f Filter) Keep(o Overlay) bool {
	if slices.Contains(f.Deny, o.Name()) {
		return false
	}
	return len(f.Allow) == 0 || slices.Contains(f.Allow, o.Name())
}
