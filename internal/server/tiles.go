package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"
)

const etagCap = 64

// HandleTile serves a cached imagery tile.
// Path: /tiles/{layer}/{z}/{x}/{y}.webp
func (s *ServerContext) HandleTile(w http.ResponseWriter, r *http.Request) {
	layer := r.PathValue("layer")

	// allow only configured layers to prevent path probing
	if _, ok := s.Catalog.Get(layer); !ok {
		http.NotFound(w, r)
		return
	}

	c, err := parseTile(r.PathValue("z"), r.PathValue("x"), strings.TrimSuffix(r.PathValue("y"), ".webp"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	tryServe := func(l string) bool {
		return s.serveFile(w, r, imagery.CachePath(s.Config.CacheDir, l, c), "image/webp")
	}

	// try requested layer
	if tryServe(layer) {
		return
	}

	// fallback to the other layer
	if alt, ok := s.Catalog.Alternate(layer); ok && tryServe(alt.Name) {
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.TransparentTile)
}

func parseTile(zs, xs, ys string) (geo.TileCoordinate, error) {
	z, err := strconv.Atoi(zs)
	if err != nil || z < 0 || z > 24 {
		return geo.TileCoordinate{}, fmt.Errorf("bad zoom %q", zs)
	}
	n := 1 << z
	x, err := strconv.Atoi(xs)
	if err != nil || x < 0 || x >= n {
		return geo.TileCoordinate{}, fmt.Errorf("bad column %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil || y < 0 || y >= n {
		return geo.TileCoordinate{}, fmt.Errorf("bad row %q", ys)
	}
	return geo.TileCoordinate{Z: z, X: x, Y: y}, nil
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, path)
	return true
}
