package collab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/grid"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var farm = geo.Bounds{North: 10.001, South: 10.000, East: 20.001, West: 20.000}

func sampleFeatures() []feature.Feature {
	ring := orb.Ring{{20, 10}, {20.001, 10}, {20.001, 10.001}, {20, 10.001}, {20, 10}}
	return []feature.Feature{
		{ID: "b", Geometry: orb.Polygon{ring}, ZoneType: feature.BoundaryZone},
		{ID: "t", Geometry: orb.Point{20.0003, 10.0004}, ZoneType: "tree", Label: "Old oak"},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := FileStore{Dir: t.TempDir()}
	ctx := context.Background()

	got, err := s.LoadZones(ctx, "farm-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SaveZones(ctx, "farm-1", sampleFeatures()))
	got, err = s.LoadZones(ctx, "farm-1")
	require.NoError(t, err)

	if diff := cmp.Diff(sampleFeatures(), got); diff != "" {
		t.Fatalf("zones differ (-want +got):\n%s", diff)
	}

}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	s := FileStore{Dir: t.TempDir()}
	require.NoError(t, s.SaveZones(context.Background(), "farm-1", sampleFeatures()))
	require.NoError(t, s.SaveZones(context.Background(), "farm-1", sampleFeatures()[:1]))

	entries, err := os.ReadDir(s.Dir + "/farm-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ZonesFile, entries[0].Name())
}

func TestFileStoreRejectsPathFarmIDs(t *testing.T) {
	s := FileStore{Dir: t.TempDir()}
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		_, err := s.LoadZones(context.Background(), id)
		assert.ErrorIs(t, err, ErrBadFarmID, id)
		assert.ErrorIs(t, s.SaveZones(context.Background(), id, nil), ErrBadFarmID, id)
	}
}

func TestHTTPStore(t *testing.T) {
	var saved []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/farms/missing/zones":
			http.NotFound(w, r)
		case r.URL.Path == "/farms/f1/zones" && r.Method == http.MethodPut:
			saved, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/farms/f1/zones" && r.Method == http.MethodGet:
			_, _ = w.Write(saved)
		case r.URL.Path == "/farms/broken/zones":
			http.Error(w, "database down", http.StatusInternalServerError)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL + "/")
	ctx := context.Background()

	got, err := s.LoadZones(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SaveZones(ctx, "f1", sampleFeatures()))
	fc, err := geojson.UnmarshalFeatureCollection(saved)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)

	got, err = s.LoadZones(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, sampleFeatures(), got)

	_, err = s.LoadZones(ctx, "broken")
	assert.ErrorContains(t, err, "database down")
}

func TestBuildRequestCarriesCellRanges(t *testing.T) {
	g := grid.New(farm, grid.Imperial, grid.Coarse)
	shot := capture.Image{Imagery: "satellite", Format: capture.FormatWebP, Data: []byte{1, 2, 3}}

	req := BuildRequest("f1", "where should the pond go?", "", sampleFeatures(), g, shot, capture.Image{})

	assert.Equal(t, grid.Imperial, req.Grid.Unit)
	assert.Equal(t, "50ft × 50ft", req.Grid.CellSize)
	require.Len(t, req.Features, 2)
	assert.True(t, req.Features[0].Boundary)
	assert.Equal(t, "A1–"+grid.CellName(g.Columns-1, g.Rows-1), req.Features[0].Cells)
	col, row := g.Cell(orb.Point{20.0003, 10.0004})
	assert.Equal(t, grid.CellName(col, row), req.Features[1].Cells)
	assert.Equal(t, "Old oak", req.Features[1].Label)
	assert.Len(t, req.Screenshots, 1)
}

func TestHTTPAnalyzer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "f1", req.FarmID)
		require.Len(t, req.Screenshots, 1)
		assert.Equal(t, []byte{1, 2, 3}, req.Screenshots[0].Data)
		_ = json.NewEncoder(w).Encode(Response{Response: "Put it in C3", ConversationID: "c-1"})
	}))
	defer srv.Close()

	g := grid.New(farm, grid.Metric, grid.Coarse)
	req := BuildRequest("f1", "pond?", "", sampleFeatures(), g, capture.Image{Imagery: "satellite", Data: []byte{1, 2, 3}})

	resp, err := NewHTTPAnalyzer(srv.URL).Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Put it in C3", resp.Response)
	assert.Equal(t, "c-1", resp.ConversationID)
}
