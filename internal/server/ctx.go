package server

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/woozymasta/farmcanvas/internal/autosave"
	"github.com/woozymasta/farmcanvas/internal/canvas"
	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/collab"
	"github.com/woozymasta/farmcanvas/internal/config"
	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/imagery"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	mjson "github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

// Media types served by the bridge.
const (
	mimeJSON    = "application/json"
	mimeGeoJSON = "application/geo+json"
	mimeSVG     = "image/svg+xml"
	mimeHTML    = "text/html"
	mimeCSS     = "text/css"
	mimeJS      = "text/javascript"
)

// ServerContext holds dependencies for request handlers. Analyzer may be nil
// when no analysis service is configured.
type ServerContext struct {
	Config     *config.Config
	Catalog    *imagery.Catalog
	Controller *canvas.Controller
	Store      *feature.Store
	Autosave   *autosave.Debouncer
	Capture    *capture.Pipeline
	Analyzer   collab.Analyzer

	IndexHTML       []byte
	TransparentTile []byte

	minifier *minify.M
	events   *eventLog

	lastMu sync.Mutex
	last   capture.Result
}

// NewServerContext builds the static assets and subscribes to the controller,
// capture and autosave events so the host UI can poll them.
func NewServerContext(s *ServerContext) (*ServerContext, error) {
	if s.Config == nil || s.Catalog == nil || s.Controller == nil || s.Store == nil {
		return nil, fmt.Errorf("server context requires config, catalog, controller and store")
	}

	s.minifier = minify.New()
	s.minifier.AddFunc(mimeCSS, css.Minify)
	s.minifier.AddFunc(mimeHTML, html.Minify)
	s.minifier.AddFunc(mimeJS, js.Minify)
	s.minifier.AddFunc(mimeSVG, svg.Minify)
	s.minifier.AddFunc(mimeJSON, mjson.Minify)
	// ten significant digits keep coordinates to about a centimetre
	s.minifier.Add(mimeGeoJSON, &mjson.Minifier{Precision: 10})

	tile, err := transparentTile(256)
	if err != nil {
		return nil, fmt.Errorf("transparent tile: %w", err)
	}
	s.TransparentTile = tile

	index, err := s.buildIndex()
	if err != nil {
		return nil, fmt.Errorf("index page: %w", err)
	}
	s.IndexHTML = index

	s.events = newEventLog(eventLogSize)
	s.Controller.OnEvent(s.events.Add)
	if s.Capture != nil {
		s.Capture.OnPhase(func(ph capture.Phase) {
			s.events.Add(canvas.Event{Kind: EventCapture, Message: string(ph)})
		})
	}
	if s.Autosave != nil {
		s.Autosave.OnStatus(func(st autosave.Status) {
			ev := canvas.Event{Kind: EventSave, Message: "saved"}
			switch {
			case st.Saving:
				ev.Message = "saving"
			case st.LastErr != nil:
				ev.Message = st.LastErr.Error()
			case st.Dirty:
				ev.Message = "unsaved"
			}
			s.events.Add(ev)
		})
	}

	log.Info().
		Str("farm", s.Config.Farm.ID).
		Int("imagery_layers", len(s.Catalog.Sources())).
		Bool("analysis", s.Analyzer != nil).
		Bool("capture", s.Capture != nil).
		Msg("Server context initialized successfully")

	return s, nil
}

// Routes registers every endpoint and wraps the mux in the request logger.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.HandleState)
	mux.HandleFunc("GET /api/events", s.HandleEvents)
	mux.HandleFunc("GET /api/zones", s.HandleZoneStyles)

	mux.HandleFunc("GET /api/imagery", s.HandleImageryList)
	mux.HandleFunc("POST /api/imagery/{name}", s.HandleImagerySwitch)

	mux.HandleFunc("GET /api/features", s.HandleFeatures)
	mux.HandleFunc("POST /api/features/{id}/select", s.HandleSelect)
	mux.HandleFunc("PUT /api/features/{id}/label", s.HandleLabel)
	mux.HandleFunc("DELETE /api/features/{id}", s.HandleDelete)
	mux.HandleFunc("POST /api/deselect", s.HandleDeselect)
	mux.HandleFunc("POST /api/vertex", s.HandleVertex)

	mux.HandleFunc("POST /api/tool", s.HandleTool)
	mux.HandleFunc("POST /api/click", s.HandleClick)
	mux.HandleFunc("POST /api/finish", s.HandleFinish)
	mux.HandleFunc("POST /api/cancel", s.HandleCancel)
	mux.HandleFunc("POST /api/snap", s.HandleSnap)
	mux.HandleFunc("POST /api/modifier", s.HandleModifier)

	mux.HandleFunc("GET /api/grid", s.HandleGrid)
	mux.HandleFunc("PUT /api/grid", s.HandleGridSettings)

	mux.HandleFunc("POST /api/save", s.HandleSave)
	mux.HandleFunc("POST /api/capture", s.HandleCapture)
	mux.HandleFunc("GET /api/capture/{slot}", s.HandleCaptureImage)
	mux.HandleFunc("POST /api/analyze", s.HandleAnalyze)

	mux.HandleFunc("GET /tiles/{layer}/{z}/{x}/{y}", s.HandleTile)
	mux.HandleFunc("GET /{$}", s.HandleIndex)

	return RequestLogger(mux)
}

func transparentTile(size int) ([]byte, error) {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
