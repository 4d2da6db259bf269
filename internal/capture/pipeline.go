// Package capture turns the live map into an image for the analysis
// collaborator. A session waits for the imagery to settle, grabs one frame
// inside its render callback, flattens it with the UI overlays and encodes
// the result. Dual capture repeats the pass under a second base imagery and
// restores the original one afterwards.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
)

// Phase is the state of a capture session.
type Phase string

// Session phases.
const (
	WaitingForTiles Phase = "waiting_for_tiles"
	Capturing       Phase = "capturing"
	Compositing     Phase = "compositing"
	Done            Phase = "done"
	Failed          Phase = "failed"
)

// Output formats.
const (
	FormatWebP = "webp"
	FormatPNG  = "png"
)

// Surface is the part of the renderer a capture reads.
type Surface interface {
	StyleLoaded() bool
	IsImagerySettled() bool
	// RequestFrame calls fn with the next rendered frame. The image is only
	// valid inside fn.
	RequestFrame(fn func(frame image.Image))
}

// Imagery switches the base imagery for dual captures.
type Imagery interface {
	CurrentImagery() string
	SwitchImagery(ctx context.Context, name string) error
}

// Options tune a Pipeline.
type Options struct {
	ReadyChecks   int           `yaml:"ready_checks" json:"ready_checks"`
	ReadyInterval time.Duration `yaml:"ready_interval" json:"ready_interval"`
	TilesTimeout  time.Duration `yaml:"tiles_timeout" json:"tiles_timeout"`
	FrameTimeout  time.Duration `yaml:"frame_timeout" json:"frame_timeout"`
	// MinBytes is the size floor of an extracted frame; smaller frames are blank.
	MinBytes int     `yaml:"min_bytes" json:"min_bytes"`
	Attempts int     `yaml:"attempts" json:"attempts"`
	Format   string  `yaml:"format" json:"format"`
	Quality  float32 `yaml:"quality" json:"quality"`
	Filter   Filter  `yaml:"filter" json:"filter"`
}

// DefaultOptions returns the capture timing used when none is configured.
func DefaultOptions() Options {
	return Options{
		ReadyChecks:   3,
		ReadyInterval: 200 * time.Millisecond,
		TilesTimeout:  10 * time.Second,
		FrameTimeout:  2 * time.Second,
		MinBytes:      512,
		Attempts:      3,
		Format:        FormatWebP,
		Quality:       90,
		Filter:        Filter{Deny: []string{ZoomControlsOverlay}},
	}
}

func (o *Options) defaults() {
	d := DefaultOptions()
	if o.ReadyChecks <= 0 {
		o.ReadyChecks = d.ReadyChecks
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = d.ReadyInterval
	}
	if o.TilesTimeout <= 0 {
		o.TilesTimeout = d.TilesTimeout
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = d.FrameTimeout
	}
	if o.MinBytes <= 0 {
		o.MinBytes = d.MinBytes
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Format == "" {
		o.Format = d.Format
	}
	if o.Quality <= 0 {
		o.Quality = d.Quality
	}
}

// Image is one encoded capture.
type Image struct {
	Imagery string `json:"imagery"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Data    []byte `json:"data"`
}

// Result of a dual capture. Swapped reports whether the base imagery was
// switched for the secondary image.
type Result struct {
	Primary   Image  `json:"primary"`
	Secondary *Image `json:"secondary,omitempty"`
	Swapped   bool   `json:"swapped"`
}

// Pipeline runs capture sessions one at a time.
type Pipeline struct {
	surface Surface
	stage   Stage
	imagery Imagery
	opts    Options

	mu      sync.Mutex
	running bool

	hmu      sync.Mutex
	handlers []func(Phase)
}

// New creates a pipeline. imagery may be nil when dual capture is not used.
func New(surface Surface, stage Stage, imagery Imagery, opts Options) *Pipeline {
	opts.defaults()
	return &Pipeline{surface: surface, stage: stage, imagery: imagery, opts: opts}
}

// OnPhase registers a handler for phase transitions.
func (p *Pipeline) OnPhase(fn func(Phase)) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.handlers = append(p.handlers, fn)
}

func (p *Pipeline) enter(ph Phase) {
	log.Debug().Str("phase", string(ph)).Msg("Capture phase")
	p.hmu.Lock()
	handlers := p.handlers
	p.hmu.Unlock()
	for _, fn := range handlers {
		fn(ph)
	}
}

func (p *Pipeline) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fail(ErrCaptureInFlight, WaitingForTiles, nil)
	}
	p.running = true
	return nil
}

func (p *Pipeline) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// Capture takes one image of the current view.
func (p *Pipeline) Capture(ctx context.Context) (Image, error) {
	if err := p.acquire(); err != nil {
		return Image{}, err
	}
	defer p.release()

	return p.session(ctx)
}

// CaptureDual takes the current view and a second image under the named
// imagery. When that imagery is already shown the same image fills both
// slots. The original imagery is restored on every path.
func (p *Pipeline) CaptureDual(ctx context.Context, secondary string) (Result, error) {
	if err := p.acquire(); err != nil {
		return Result{}, err
	}
	defer p.release()

	primary, err := p.session(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Primary: primary}

	if p.imagery == nil || secondary == "" {
		return res, nil
	}
	original := p.imagery.CurrentImagery()
	if secondary == original {
		same := primary
		res.Secondary = &same
		return res, nil
	}

	started := time.Now()
	defer func() {
		if err := p.imagery.SwitchImagery(context.WithoutCancel(ctx), original); err != nil {
			log.Error().Err(err).Str("imagery", original).Msg("Failed to restore imagery after capture")
		}
		log.Debug().Str("secondary", secondary).Dur("took", time.Since(started)).Msg("Dual capture round trip")
	}()

	if err := p.imagery.SwitchImagery(ctx, secondary); err != nil {
		return res, fail(ErrMapNotReady, WaitingForTiles, fmt.Errorf("switch to %s: %w", secondary, err))
	}
	res.Swapped = true

	second, err := p.session(ctx)
	if err != nil {
		return res, err
	}
	res.Secondary = &second
	return res, nil
}

func (p *Pipeline) session(ctx context.Context) (img Image, err error) {
	defer func() {
		if err != nil {
			p.enter(Failed)
			log.Warn().Err(err).Msg("Capture failed")
		}
	}()

	p.enter(WaitingForTiles)
	if err := p.waitForTiles(ctx); err != nil {
		return Image{}, err
	}

	p.enter(Capturing)
	raw, err := p.grab(ctx)
	if err != nil {
		return Image{}, err
	}

	p.enter(Compositing)
	out, err := p.composite(raw)
	if err != nil {
		return Image{}, err
	}

	data, err := encode(out, p.opts.Format, p.opts.Quality)
	if err != nil {
		return Image{}, fail(ErrCompositeEmpty, Compositing, err)
	}

	p.enter(Done)
	img = Image{
		Format: p.opts.Format,
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Data:   data,
	}
	if p.imagery != nil {
		img.Imagery = p.imagery.CurrentImagery()
	}
	log.Info().Str("imagery", img.Imagery).Int("bytes", len(data)).Msg("Map captured")
	return img, nil
}

// waitForTiles needs ReadyChecks consecutive settled probes. On timeout it
// proceeds anyway unless the style never loaded.
func (p *Pipeline) waitForTiles(ctx context.Context) error {
	deadline := time.NewTimer(p.opts.TilesTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(p.opts.ReadyInterval)
	defer tick.Stop()

	streak := 0
	for {
		if p.surface.IsImagerySettled() {
			streak++
			if streak >= p.opts.ReadyChecks {
				return nil
			}
		} else {
			streak = 0
		}

		select {
		case <-tick.C:
		case <-deadline.C:
			if !p.surface.StyleLoaded() {
				return fail(ErrMapNotReady, WaitingForTiles, errors.New("style never loaded"))
			}
			log.Warn().Int("streak", streak).Dur("timeout", p.opts.TilesTimeout).Msg("Imagery not settled, capturing anyway")
			return nil
		case <-ctx.Done():
			return fail(ErrMapNotReady, WaitingForTiles, ctx.Err())
		}
	}
}

// grab extracts a lossless copy of one frame inside the frame callback.
func (p *Pipeline) grab(ctx context.Context) ([]byte, error) {
	var last error = ErrBlankCanvas

	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		got := make(chan []byte, 1)
		p.surface.RequestFrame(func(frame image.Image) {
			var buf bytes.Buffer
			if err := webp.Encode(&buf, frame, &webp.Options{Lossless: true}); err != nil {
				log.Trace().Err(err).Msg("Frame encode failed")
				got <- nil
				return
			}
			got <- buf.Bytes()
		})

		timer := time.NewTimer(p.opts.FrameTimeout)
		select {
		case data := <-got:
			timer.Stop()
			if len(data) >= p.opts.MinBytes {
				return data, nil
			}
			log.Debug().Int("attempt", attempt).Int("bytes", len(data)).Int("min", p.opts.MinBytes).Msg("Frame below size floor")
			last = ErrBlankCanvas
		case <-timer.C:
			log.Debug().Int("attempt", attempt).Dur("timeout", p.opts.FrameTimeout).Msg("Frame not delivered")
			last = ErrCaptureTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil, fail(ErrCaptureTimeout, Capturing, ctx.Err())
		}
	}

	return nil, fail(last, Capturing, fmt.Errorf("%d attempts", p.opts.Attempts))
}

// composite mounts the frame beneath the hidden canvas, collapses transient
// overlays and flattens everything the filter keeps. The stage is restored on
// every path.
func (p *Pipeline) composite(raw []byte) (out *image.RGBA, err error) {
	frame, err := webp.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fail(ErrBlankCanvas, Compositing, err)
	}

	for _, o := range p.stage.Overlays() {
		if c, ok := o.(Collapsible); ok && c.Expanded() {
			c.SetExpanded(false)
			defer c.SetExpanded(true)
		}
	}

	id, err := p.stage.Mount(frame)
	if err != nil {
		return nil, fail(ErrCompositeEmpty, Compositing, err)
	}
	defer p.stage.Unmount(id)

	p.stage.HideCanvas()
	defer p.stage.ShowCanvas()

	out, err = p.stage.Flatten(p.opts.Filter.Keep)
	if err != nil {
		return nil, fail(ErrCompositeEmpty, Compositing, err)
	}
	if out == nil || out.Bounds().Empty() || transparent(out) {
		return nil, fail(ErrCompositeEmpty, Compositing, nil)
	}
	return out, nil
}

func transparent(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}

func encode(img image.Image, format string, quality float32) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown image format %q", format)
	}
	return buf.Bytes(), nil
}
