// Package tiles fetches base imagery tiles and keeps them in an on-disk cache
// of webp files laid out as <cache>/<layer>/<z>/<x>/<y>.webp.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNotFound is returned when the provider has no tile at a coordinate.
var ErrNotFound = errors.New("tile not found")

// ErrEmpty is returned for the 1px placeholder tiles some providers serve
// outside their coverage.
var ErrEmpty = errors.New("empty tile")

// Fetcher loads tiles from the cache, downloading and caching misses.
type Fetcher struct {
	Client   *http.Client
	CacheDir string
	Quality  float32
	// Offline disables downloads; only cached tiles are served.
	Offline bool
}

// NewFetcher returns a fetcher with the client settings of the loader.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		Client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
			Timeout: 15 * time.Second,
		},
		CacheDir: cacheDir,
		Quality:  80,
	}
}

// Fetch returns one tile of a layer.
func (f *Fetcher) Fetch(ctx context.Context, src imagery.Source, c geo.TileCoordinate) (image.Image, error) {
	img, _, err := f.fetch(ctx, src, c, false)
	return img, err
}

// fetch reports whether the tile was downloaded.
func (f *Fetcher) fetch(ctx context.Context, src imagery.Source, c geo.TileCoordinate, force bool) (image.Image, bool, error) {
	path := imagery.CachePath(f.CacheDir, src.Name, c)

	if !force {
		if img, err := decodeFile(path); err == nil {
			return img, false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Trace().Err(err).Str("path", path).Msg("Cached tile unreadable, refetching")
		}
	}

	if f.Offline || !src.Templated() {
		return nil, false, fmt.Errorf("%w: %s %d/%d/%d not cached", ErrNotFound, src.Name, c.Z, c.X, c.Y)
	}

	img, err := f.download(ctx, src.TileURL(c))
	if err != nil {
		return nil, false, err
	}

	if f.CacheDir != "" {
		if err := f.store(path, img); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to cache tile")
		}
	}

	return img, true, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}

	// Filter out empty/1px tiles often returned by map servers for OOB areas
	if img.Bounds().Dx() <= 1 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, url)
	}

	return img, nil
}

// store encodes img next to path and renames it into place, so a failed
// encode never leaves a partial tile in the cache.
func (f *Fetcher) store(path string, img image.Image) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debug().Err(err).Str("path", tmp.Name()).Msg("Failed to remove temp tile")
		}
	}()

	q := f.Quality
	if q <= 0 {
		q = 80
	}
	if err := webp.Encode(tmp, img, &webp.Options{Lossless: false, Quality: q}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	img, _, err := image.Decode(fh)
	return img, err
}
