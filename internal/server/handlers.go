// Package server exposes the canvas to the host UI over HTTP: state and
// events, editing input, grid overlay, captures and cached tiles.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/woozymasta/farmcanvas/internal/canvas"
	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/collab"
	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/grid"
	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

const maxBody = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type stateResponse struct {
	canvas.Snapshot
	Switching bool         `json:"switching"`
	Features  int          `json:"features"`
	Unit      grid.Unit    `json:"unit"`
	Density   grid.Density `json:"density"`
	CellSize  string       `json:"cell_size"`
	Dirty     bool         `json:"dirty"`
	Saving    bool         `json:"saving"`
	SavedAt   *time.Time   `json:"saved_at,omitempty"`
	SaveError string       `json:"save_error,omitempty"`
}

// HandleState serves the controller snapshot and the save flags.
func (s *ServerContext) HandleState(w http.ResponseWriter, r *http.Request) {
	g := s.Controller.Grid()
	resp := stateResponse{
		Snapshot:  s.Controller.Snapshot(),
		Switching: s.Controller.Switching(),
		Features:  s.Store.Len(),
		Unit:      s.Controller.GridUnit(),
		Density:   s.Controller.GridDensity(),
		CellSize:  grid.CellSizeText(g.Unit, g.Subdivision),
	}
	if s.Autosave != nil {
		st := s.Autosave.Status()
		resp.Dirty, resp.Saving = st.Dirty, st.Saving
		if !st.SavedAt.IsZero() {
			resp.SavedAt = &st.SavedAt
		}
		if st.LastErr != nil {
			resp.SaveError = st.LastErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEvents serves the events after the "since" sequence number.
func (s *ServerContext) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad since %q", v))
			return
		}
		since = n
	}
	events, last := s.events.Since(since)
	writeJSON(w, http.StatusOK, map[string]any{"last": last, "events": events})
}

// HandleZoneStyles serves the zone type colour table for the label prompt
// and the legend.
func (s *ServerContext) HandleZoneStyles(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]style.ZoneStyle)
	for _, z := range style.ZoneTypes() {
		out[z] = style.Lookup(z)
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": out, "boundary": style.Boundary})
}

// HandleImageryList serves the configured layers and the active one.
func (s *ServerContext) HandleImageryList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.Controller.CurrentImagery(),
		"layers":  s.Catalog.Sources(),
	})
}

// HandleImagerySwitch swaps the base imagery and waits for the switch to end.
func (s *ServerContext) HandleImagerySwitch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.Controller.SwitchImagery(r.Context(), name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

// HandleFeatures serves the working set as GeoJSON with the cell range of
// every feature.
func (s *ServerContext) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	fc := feature.ToGeoJSON(s.Controller.Features())
	cells := s.Controller.CellRanges()
	for _, f := range fc.Features {
		if id, ok := f.ID.(string); ok {
			if c, ok := cells[id]; ok {
				f.Properties["cells"] = c
			}
		}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeMinified(w, mimeGeoJSON, data)
}

// HandleSelect enters editing for a feature. Selecting the boundary is
// answered with a warning event and leaves the controller idle.
func (s *ServerContext) HandleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Select(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

// HandleDeselect leaves editing.
func (s *ServerContext) HandleDeselect(w http.ResponseWriter, r *http.Request) {
	s.Controller.Deselect()
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

type labelRequest struct {
	ZoneType string `json:"zone_type"`
	Label    string `json:"label"`
}

// HandleLabel answers a label prompt or relabels a feature.
func (s *ServerContext) HandleLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Controller.SetLabel(r.PathValue("id"), req.ZoneType, req.Label); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a feature. Deleting the boundary is answered with a
// warning event and the boundary stays.
func (s *ServerContext) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Delete(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pointRequest struct {
	Lng   float64 `json:"lng"`
	Lat   float64 `json:"lat"`
	Touch bool    `json:"touch"`
}

type vertexRequest struct {
	pointRequest
	Ring  int `json:"ring"`
	Index int `json:"index"`
}

// HandleVertex commits a vertex drag of the selected feature.
func (s *ServerContext) HandleVertex(w http.ResponseWriter, r *http.Request) {
	var req vertexRequest
	if !decode(w, r, &req) {
		return
	}
	p := orb.Point{req.Lng, req.Lat}
	if err := s.Controller.MoveVertex(req.Ring, req.Index, p, req.Touch); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

// HandleTool activates a draw tool.
func (s *ServerContext) HandleTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tool string `json:"tool"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, ok := canvas.ParseTool(req.Tool)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown tool %q", req.Tool))
		return
	}
	if err := s.Controller.SelectTool(t); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

// HandleClick places a vertex with the active tool. The ID of a feature
// completed by the click is returned.
func (s *ServerContext) HandleClick(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.Controller.Click(orb.Point{req.Lng, req.Lat}, req.Touch)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": s.Controller.Snapshot()})
}

// HandleFinish completes a line or polygon.
func (s *ServerContext) HandleFinish(w http.ResponseWriter, r *http.Request) {
	id, err := s.Controller.Finish()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": s.Controller.Snapshot()})
}

// HandleCancel drops the shape being drawn.
func (s *ServerContext) HandleCancel(w http.ResponseWriter, r *http.Request) {
	s.Controller.Cancel()
	writeJSON(w, http.StatusOK, s.Controller.Snapshot())
}

// HandleSnap toggles the snap preference.
func (s *ServerContext) HandleSnap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.Controller.SetSnapEnabled(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

// HandleModifier reports the snap inversion key.
func (s *ServerContext) HandleModifier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Held bool `json:"held"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Held {
		s.Controller.PressModifier()
	} else {
		s.Controller.ReleaseModifier()
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGrid serves the grid overlay of the current view as GeoJSON, or as
// SVG with ?format=svg.
func (s *ServerContext) HandleGrid(w http.ResponseWriter, r *http.Request) {
	lines, labels := s.Controller.Overlay()

	if r.URL.Query().Get("format") == "svg" {
		s.writeMinified(w, mimeSVG, lines.SVG(labels, s.Config.View.Width))
		return
	}

	fc := lines.FeatureCollection()
	for _, f := range grid.LabelsFeatureCollection(labels).Features {
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeMinified(w, mimeGeoJSON, data)
}

// HandleGridSettings changes the unit and the label density.
func (s *ServerContext) HandleGridSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Unit    string `json:"unit"`
		Density string `json:"density"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Unit != "" {
		u, err := grid.ParseUnit(req.Unit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.Controller.SetGridUnit(u)
	}
	if req.Density != "" {
		d, err := grid.ParseDensity(req.Density)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.Controller.SetGridDensity(d)
	}
	s.HandleState(w, r)
}

// HandleSave flushes pending edits to the persistence collaborator.
func (s *ServerContext) HandleSave(w http.ResponseWriter, r *http.Request) {
	if s.Autosave == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("persistence not configured"))
		return
	}
	if err := s.Autosave.Flush(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.HandleState(w, r)
}

type captureRequest struct {
	Secondary string `json:"secondary"`
}

type captureImage struct {
	Imagery string `json:"imagery"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bytes   int    `json:"bytes"`
	URL     string `json:"url"`
}

func describe(img capture.Image, slot string) *captureImage {
	return &captureImage{
		Imagery: img.Imagery,
		Format:  img.Format,
		Width:   img.Width,
		Height:  img.Height,
		Bytes:   len(img.Data),
		URL:     "/api/capture/" + slot,
	}
}

// HandleCapture runs a capture session, dual when a secondary imagery is
// named. The images are kept for HandleCaptureImage.
func (s *ServerContext) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	res, err := s.capture(r.Context(), req.Secondary)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	out := map[string]any{"primary": describe(res.Primary, "primary"), "swapped": res.Swapped}
	if res.Secondary != nil {
		out["secondary"] = describe(*res.Secondary, "secondary")
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *ServerContext) capture(ctx context.Context, secondary string) (capture.Result, error) {
	if s.Capture == nil {
		return capture.Result{}, errors.New("capture not configured")
	}

	var res capture.Result
	var err error
	if secondary != "" {
		res, err = s.Capture.CaptureDual(ctx, secondary)
	} else {
		res.Primary, err = s.Capture.Capture(ctx)
	}
	if err != nil {
		return res, err
	}

	s.lastMu.Lock()
	s.last = res
	s.lastMu.Unlock()
	return res, nil
}

// HandleCaptureImage serves the primary or secondary image of the last capture.
func (s *ServerContext) HandleCaptureImage(w http.ResponseWriter, r *http.Request) {
	s.lastMu.Lock()
	res := s.last
	s.lastMu.Unlock()

	var img *capture.Image
	switch r.PathValue("slot") {
	case "primary":
		if len(res.Primary.Data) > 0 {
			img = &res.Primary
		}
	case "secondary":
		img = res.Secondary
	}
	if img == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/"+img.Format)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img.Data)
}

type analyzeRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	Secondary      string `json:"secondary"`
}

// HandleAnalyze captures the map, builds the analysis payload from the
// working set and the grid and forwards it to the analysis service.
func (s *ServerContext) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("analysis not configured"))
		return
	}

	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	var shots []capture.Image
	if s.Capture != nil {
		res, err := s.capture(r.Context(), req.Secondary)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		shots = append(shots, res.Primary)
		if res.Secondary != nil && res.Swapped {
			shots = append(shots, *res.Secondary)
		}
	}

	payload := collab.BuildRequest(s.Config.Farm.ID, req.Query, req.ConversationID,
		s.Controller.Features(), s.Controller.Grid(), shots...)

	resp, err := s.Analyzer.Analyze(r.Context(), payload)
	if err != nil {
		log.Error().Err(err).Str("farm", s.Config.Farm.ID).Msg("Analysis failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *ServerContext) writeMinified(w http.ResponseWriter, mediatype string, data []byte) {
	if out, err := s.minifier.Bytes(mediatype, data); err == nil {
		data = out
	} else {
		log.Trace().Err(err).Str("type", mediatype).Msg("Minify failed, serving as is")
	}
	w.Header().Set("Content-Type", mediatype)
	_, _ = w.Write(data)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ce *capture.Error
	if errors.As(err, &ce) && !errors.Is(err, capture.ErrCaptureInFlight) {
		resp.Message = capture.UserMessage
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, feature.ErrNotFound),
		errors.Is(err, canvas.ErrUnknownImagery):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrSwitchInProgress),
		errors.Is(err, capture.ErrCaptureInFlight),
		errors.Is(err, canvas.ErrNotDrawing),
		errors.Is(err, canvas.ErrNotEditing),
		errors.Is(err, feature.ErrNotPending),
		errors.Is(err, feature.ErrDuplicateBoundary):
		return http.StatusConflict
	case errors.Is(err, canvas.ErrTooFewVertices),
		errors.Is(err, feature.ErrReservedZone),
		errors.Is(err, feature.ErrInvalidGeometry):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrMapNotReady),
		errors.Is(err, capture.ErrBlankCanvas),
		errors.Is(err, capture.ErrCaptureTimeout),
		errors.Is(err, capture.ErrCompositeEmpty):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
