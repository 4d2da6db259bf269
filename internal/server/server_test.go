package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/woozymasta/farmcanvas/internal/autosave"
	"github.com/woozymasta/farmcanvas/internal/canvas"
	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/collab"
	"github.com/woozymasta/farmcanvas/internal/config"
	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/render"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testConfig = `
farm:
  id: test-farm
  name: Test <Farm>
imagery:
  - name: satellite
    url: https://sat.example/{z}/{x}/{y}
  - name: topographic
    url: https://topo.example/{z}/{x}/{y}
view:
  width: 200
  height: 150
capture:
  ready_interval: 5ms
  min_bytes: 1
`

type paintedTiles struct{}

func (paintedTiles) Fetch(_ context.Context, src imagery.Source, c geo.TileCoordinate) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	shade := uint8(60)
	if src.Name == imagery.Topographic {
		shade = 200
	}
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: uint8(x ^ y), B: uint8(c.X + y), A: 255})
		}
	}
	return img, nil
}

type fakeAnalyzer struct {
	mu  sync.Mutex
	got []collab.Request
}

func (a *fakeAnalyzer) Analyze(_ context.Context, r collab.Request) (collab.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, r)
	return collab.Response{Response: "plant near B2", ConversationID: "c1"}, nil
}

var boundaryRing = orb.Ring{{-100.001, 39.9995}, {-99.999, 39.9995}, {-99.999, 40.0005}, {-100.001, 40.0005}, {-100.001, 39.9995}}

type fixture struct {
	srv      *ServerContext
	handler  http.Handler
	store    *feature.Store
	zones    collab.FileStore
	analyzer *fakeAnalyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.CacheDir = t.TempDir()

	catalog, err := cfg.Catalog()
	require.NoError(t, err)

	store := feature.NewStore(feature.Options{LabelTimeout: time.Hour})
	t.Cleanup(store.Close)
	require.NoError(t, store.Load([]feature.Feature{{ID: "boundary", Geometry: orb.Polygon{boundaryRing}, ZoneType: feature.BoundaryZone}}))

	m := render.New(paintedTiles{}, render.Options{
		Width: cfg.View.Width, Height: cfg.View.Height,
		Center: orb.Point{-100, 40}, Zoom: 19,
		Catalog: catalog,
	})
	t.Cleanup(m.Close)

	ctl, err := canvas.New(m, store, catalog, canvas.Options{FarmID: cfg.Farm.ID, DefaultImagery: cfg.DefaultImagery})
	require.NoError(t, err)
	m.OnMove(ctl.ViewportChanged)
	require.NoError(t, ctl.Start(context.Background()))

	zones := collab.FileStore{Dir: t.TempDir()}
	saver := autosave.New(zones, cfg.Farm.ID, store.All, time.Hour)
	store.OnChange(saver.HandleChange)
	t.Cleanup(func() { _ = saver.Close(context.Background()) })

	scene := capture.NewScene(cfg.View.Width, cfg.View.Height, capture.NewLegend(true), capture.ZoomControls{})
	pipe := capture.New(m, scene, ctl, cfg.Capture)

	analyzer := &fakeAnalyzer{}
	srv, err := NewServerContext(&ServerContext{
		Config:     cfg,
		Catalog:    catalog,
		Controller: ctl,
		Store:      store,
		Autosave:   saver,
		Capture:    pipe,
		Analyzer:   analyzer,
	})
	require.NoError(t, err)

	return &fixture{srv: srv, handler: srv.Routes(), store: store, zones: zones, analyzer: analyzer}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIndexIsMinifiedAndEscaped(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, "Test &lt;Farm")
	assert.Contains(t, page, `data-layer=topographic`)
	assert.NotContains(t, page, "\n\t")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	again := httptest.NewRecorder()
	f.handler.ServeHTTP(again, req)
	assert.Equal(t, http.StatusNotModified, again.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope.js", nil).Code)
}

func TestStateAndImagery(t *testing.T) {
	f := newFixture(t)

	st := decodeBody[stateResponse](t, f.do(t, http.MethodGet, "/api/state", nil))
	assert.Equal(t, canvas.StateIdle, st.State)
	assert.Equal(t, imagery.Satellite, st.Imagery)
	assert.Equal(t, 1, st.Features)
	assert.Equal(t, "50ft × 50ft", st.CellSize)
	assert.False(t, st.Dirty)

	rec := f.do(t, http.MethodPost, "/api/imagery/topographic", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, imagery.Topographic, decodeBody[canvas.Snapshot](t, rec).Imagery)

	list := decodeBody[map[string]any](t, f.do(t, http.MethodGet, "/api/imagery", nil))
	assert.Equal(t, imagery.Topographic, list["current"])
	assert.Len(t, list["layers"], 2)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/imagery/night", nil).Code)
}

func TestDrawLabelAndSave(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tool", map[string]string{"tool": "point"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, canvas.StateDrawing, decodeBody[canvas.Snapshot](t, rec).State)

	rec = f.do(t, http.MethodPost, "/api/click", pointRequest{Lng: -100.0005, Lat: 39.9998})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id, _ := decodeBody[map[string]any](t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodPut, "/api/features/"+id+"/label", labelRequest{ZoneType: "water", Label: "Pond"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/features/"+id+"/label", labelRequest{ZoneType: feature.BoundaryZone})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/features", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mimeGeoJSON, rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"Pond"`)
	assert.Contains(t, body, `"cells":"`)

	assert.True(t, decodeBody[stateResponse](t, f.do(t, http.MethodGet, "/api/state", nil)).Dirty)

	rec = f.do(t, http.MethodPost, "/api/save", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decodeBody[stateResponse](t, rec)
	assert.False(t, st.Dirty)
	assert.NotNil(t, st.SavedAt)

	saved, err := f.zones.LoadZones(context.Background(), "test-farm")
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestDrawErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/tool", map[string]string{"tool": "lasso"}).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/click", pointRequest{Lng: -100, Lat: 40}).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/tool", map[string]string{"tool": "polygon"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/finish", nil).Code)
	assert.Equal(t, canvas.StateIdle, decodeBody[canvas.Snapshot](t, f.do(t, http.MethodPost, "/api/cancel", nil)).State)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/features/missing", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/vertex", nil).Code)
}

func TestBoundaryDeleteWarns(t *testing.T) {
	f := newFixture(t)

	_, last := f.srv.events.Since(0)
	rec := f.do(t, http.MethodDelete, "/api/features/boundary", nil)
	require.Less(t, rec.Code, 300, rec.Body.String())

	b, ok := f.store.Boundary()
	require.True(t, ok)
	assert.Equal(t, orb.Polygon{boundaryRing}, b.Geometry)

	ev := decodeBody[struct {
		Last   uint64        `json:"last"`
		Events []loggedEvent `json:"events"`
	}](t, f.do(t, http.MethodGet, "/api/events?since="+strconv.FormatUint(last, 10), nil))
	require.NotEmpty(t, ev.Events)
	kinds := make([]canvas.EventKind, 0, len(ev.Events))
	for _, e := range ev.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, canvas.EventWarning)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/events?since=x", nil).Code)
}

func TestGridEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/grid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vertical":true`)

	rec = f.do(t, http.MethodGet, "/api/grid?format=svg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mimeSVG, rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<svg"))

	rec = f.do(t, http.MethodPut, "/api/grid", map[string]string{"unit": "metric", "density": "dense"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decodeBody[stateResponse](t, rec)
	assert.Equal(t, "25m × 25m", st.CellSize)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/grid", map[string]string{"unit": "cubits"}).Code)
}

func TestCaptureEndpoints(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/capture/primary", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/capture", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/capture", captureRequest{Secondary: imagery.Topographic})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, out["swapped"])
	assert.NotNil(t, out["secondary"])
	assert.Equal(t, imagery.Satellite, f.srv.Controller.CurrentImagery())

	rec = f.do(t, http.MethodGet, "/api/capture/secondary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", rec.Body.String()[:4])
}

func TestAnalyzeCarriesGridAndScreenshot(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/analyze", analyzeRequest{}).Code)

	rec := f.do(t, http.MethodPost, "/api/analyze", analyzeRequest{Query: "where should the pond go?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "plant near B2", decodeBody[collab.Response](t, rec).Response)

	require.Len(t, f.analyzer.got, 1)
	req := f.analyzer.got[0]
	assert.Equal(t, "test-farm", req.FarmID)
	require.Len(t, req.Features, 1)
	assert.True(t, req.Features[0].Boundary)
	assert.NotEmpty(t, req.Features[0].Cells)
	assert.Len(t, req.Screenshots, 1)
}

func TestTilesFallBack(t *testing.T) {
	f := newFixture(t)
	dir := f.srv.Config.CacheDir

	write := func(layer string, c geo.TileCoordinate, data string) {
		path := imagery.CachePath(dir, layer, c)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
	write(imagery.Satellite, geo.TileCoordinate{Z: 3, X: 1, Y: 2}, "sat")
	write(imagery.Topographic, geo.TileCoordinate{Z: 3, X: 4, Y: 4}, "topo")

	rec := f.do(t, http.MethodGet, "/tiles/satellite/3/1/2.webp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sat", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	rec = f.do(t, http.MethodGet, "/tiles/satellite/3/4/4.webp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "topo", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/tiles/satellite/3/0/0.webp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.srv.TransparentTile, rec.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tiles/night/3/0/0.webp", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tiles/satellite/3/8/0.webp", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tiles/satellite/x/0/0.webp", nil).Code)
}

func TestEventLogRing(t *testing.T) {
	l := newEventLog(3)
	for i := 0; i < 5; i++ {
		l.Add(canvas.Event{Kind: canvas.EventState})
	}
	events, last := l.Since(0)
	assert.Equal(t, uint64(5), last)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, uint64(5), events[2].Seq)

	events, _ = l.Since(4)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(5), events[0].Seq)
}
