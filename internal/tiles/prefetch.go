package tiles

import (
	"context"
	"errors"
	"sync"

	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"

	"github.com/rs/zerolog/log"
)

// Stats summarises a prefetch run.
type Stats struct {
	Queued     int
	Cached     int
	Downloaded int
	Missing    int
	Failed     int
}

type job struct {
	Source imagery.Source
	Coord  geo.TileCoordinate
}

type result struct {
	Coord      geo.TileCoordinate
	Downloaded bool
	Err        error
}

// Prefetch fills the cache with every tile covering the bounds between
// minZoom and maxZoom so the canvas can render offline.
func Prefetch(ctx context.Context, f *Fetcher, src imagery.Source, b geo.Bounds, minZoom, maxZoom, concurrency int, force bool) Stats {
	if concurrency <= 0 {
		concurrency = 8
	}
	if maxZoom > src.MaxZoom && src.MaxZoom > 0 {
		maxZoom = src.MaxZoom
	}

	var stats Stats
	for z := minZoom; z <= maxZoom; z++ {
		if ctx.Err() != nil {
			break
		}

		coords := geo.TilesCovering(b, z)
		log.Debug().
			Str("layer", src.Name).
			Int("zoom", z).
			Int("count", len(coords)).
			Msg("Processing zoom level")

		level := processBatch(ctx, f, src, coords, concurrency, force)
		stats.Queued += level.Queued
		stats.Cached += level.Cached
		stats.Downloaded += level.Downloaded
		stats.Missing += level.Missing
		stats.Failed += level.Failed
	}

	log.Info().
		Str("layer", src.Name).
		Int("queued", stats.Queued).
		Int("downloaded", stats.Downloaded).
		Int("cached", stats.Cached).
		Int("missing", stats.Missing).
		Int("failed", stats.Failed).
		Msg("Prefetch finished")

	return stats
}

func processBatch(ctx context.Context, f *Fetcher, src imagery.Source, coords []geo.TileCoordinate, concurrency int, force bool) Stats {
	jobs := make(chan job, len(coords))
	results := make(chan result, len(coords))

	go func() {
		for _, c := range coords {
			jobs <- job{Source: src, Coord: c}
		}
		close(jobs)
	}()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					results <- result{Coord: j.Coord, Err: ctx.Err()}
					continue
				}
				_, downloaded, err := f.fetch(ctx, j.Source, j.Coord, force)
				if err != nil {
					log.Trace().
						Err(err).
						Str("url", j.Source.TileURL(j.Coord)).
						Msg("Failed to fetch tile")
				}
				results <- result{Coord: j.Coord, Downloaded: downloaded, Err: err}
			}
		}()
	}
	wg.Wait()
	close(results)

	stats := Stats{Queued: len(coords)}
	for res := range results {
		switch {
		case res.Err == nil && res.Downloaded:
			stats.Downloaded++
		case res.Err == nil:
			stats.Cached++
		case errors.Is(res.Err, ErrNotFound), errors.Is(res.Err, ErrEmpty):
			stats.Missing++
		default:
			stats.Failed++
		}
	}

	return stats
}
