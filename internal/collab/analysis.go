package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/grid"
)

// FeatureRef describes one feature to the analysis service. Cells is the
// grid range it occupies, e.g. "C3–D5".
type FeatureRef struct {
	ID       string               `json:"id"`
	Geometry feature.GeometryType `json:"geometry"`
	ZoneType string               `json:"zoneType"`
	Label    string               `json:"label,omitempty"`
	Cells    string               `json:"cells,omitempty"`
	Boundary bool                 `json:"boundary,omitempty"`
}

// GridInfo tells the service how to read the cell names.
type GridInfo struct {
	Unit     grid.Unit        `json:"unit"`
	CellSize string           `json:"cellSize"`
	Columns  int              `json:"columns"`
	Rows     int              `json:"rows"`
	Sub      grid.Subdivision `json:"subdivision"`
}

// Screenshot is a captured image; Data is base64 in JSON.
type Screenshot struct {
	Imagery string `json:"imagery"`
	Format  string `json:"format"`
	Data    []byte `json:"data"`
}

// Request is the analysis payload.
type Request struct {
	FarmID         string       `json:"farmId"`
	Query          string       `json:"query"`
	ConversationID string       `json:"conversationId,omitempty"`
	Grid           GridInfo     `json:"grid"`
	Features       []FeatureRef `json:"features"`
	Screenshots    []Screenshot `json:"screenshots,omitempty"`
}

// Response is the analysis answer.
type Response struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

// Analyzer answers a query about the farm.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}

// BuildRequest assembles the payload from the working set, the grid the
// user sees and any captured images.
func BuildRequest(farmID, query, conversationID string, features []feature.Feature, g grid.Grid, shots ...capture.Image) Request {
	req := Request{
		FarmID:         farmID,
		Query:          query,
		ConversationID: conversationID,
		Grid: GridInfo{
			Unit:     g.Unit,
			CellSize: grid.CellSizeText(g.Unit, g.Subdivision),
			Columns:  g.Columns,
			Rows:     g.Rows,
			Sub:      g.Subdivision,
		},
		Features: make([]FeatureRef, 0, len(features)),
	}

	for _, f := range features {
		req.Features = append(req.Features, FeatureRef{
			ID:       f.ID,
			Geometry: f.GeometryType(),
			ZoneType: f.ZoneType,
			Label:    f.Label,
			Cells:    g.Range(f.Geometry),
			Boundary: f.IsBoundary(),
		})
	}
	for _, s := range shots {
		if len(s.Data) == 0 {
			continue
		}
		req.Screenshots = append(req.Screenshots, Screenshot{Imagery: s.Imagery, Format: s.Format, Data: s.Data})
	}

	return req
}

// HTTPAnalyzer posts requests as JSON to URL.
type HTTPAnalyzer struct {
	URL    string
	Client *http.Client
}

// NewHTTPAnalyzer returns an analyzer with a two minute timeout.
func NewHTTPAnalyzer(url string) *HTTPAnalyzer {
	return &HTTPAnalyzer{URL: url, Client: &http.Client{Timeout: 2 * time.Minute}}
}

// Analyze implements Analyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, r Request) (Response, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Response{}, statusError(resp)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode analysis response: %w", err)
	}
	return out, nil
}
