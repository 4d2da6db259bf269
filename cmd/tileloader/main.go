package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/farmcanvas/internal/collab"
	"github.com/woozymasta/farmcanvas/internal/config"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/imagery"
	"github.com/woozymasta/farmcanvas/internal/logger"
	"github.com/woozymasta/farmcanvas/internal/tiles"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

var errNoBounds = errors.New("farm has no boundary and no bounds are configured")

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string   `short:"c" long:"config"      env:"CONFIG_FILE" description:"Path to configuration file" default:"config.yaml"`
	Limit       []string `short:"l" long:"limit"       env:"LIMIT_NAMES" description:"Limit processing to specific imagery layers"`
	Concurrency int      `short:"p" long:"concurrency" env:"CONCURRENCY" description:"Concurrent downloads" default:"16"`
	MinZoom     int      `long:"min-zoom"              env:"MIN_ZOOM"    description:"Lowest zoom to fetch, overrides the configuration"`
	MaxZoom     int      `short:"z" long:"max-zoom"    env:"MAX_ZOOM"    description:"Highest zoom to fetch, overrides the configuration"`
	Margin      float64  `short:"m" long:"margin"      env:"MARGIN"      description:"Extra metres fetched around the farm" default:"100"`
	Force       bool     `short:"f" long:"force"       description:"Force overwrite of cached tiles"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid imagery configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bounds, err := farmBounds(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("farm", cfg.Farm.ID).Msg("Failed to resolve farm bounds")
	}
	bounds = pad(bounds, opts.Margin)

	minZoom, maxZoom := cfg.Tiles.MinZoom, cfg.Tiles.MaxZoom
	if opts.MinZoom > 0 {
		minZoom = opts.MinZoom
	}
	if opts.MaxZoom > 0 {
		maxZoom = opts.MaxZoom
	}
	if minZoom <= 0 {
		minZoom = int(cfg.Grid.MinZoom)
	}
	if minZoom > maxZoom {
		log.Fatal().Int("min_zoom", minZoom).Int("max_zoom", maxZoom).Msg("Min zoom is above max zoom")
	}

	// Filter layers if limit is set
	layers := catalog.Sources()
	if len(opts.Limit) > 0 {
		layers = make([]imagery.Source, 0, len(opts.Limit))
		seen := make(map[string]bool)
		for _, name := range opts.Limit {
			if seen[name] {
				continue
			}
			seen[name] = true

			if src, ok := catalog.Get(name); ok {
				layers = append(layers, src)
			} else {
				log.Error().
					Str("name", name).
					Msg("Layer specified in --limit not found in configuration")
			}
		}
	}

	fetcher := tiles.NewFetcher(cfg.CacheDir)
	fetcher.Quality = cfg.Tiles.Quality

	log.Info().
		Str("farm", cfg.Farm.ID).
		Str("bounds", bounds.String()).
		Int("layers", len(layers)).
		Int("min_zoom", minZoom).
		Int("max_zoom", maxZoom).
		Msg("Starting loader")

	start := time.Now()
	var total tiles.Stats
	for _, src := range layers {
		if ctx.Err() != nil {
			break
		}
		st := tiles.Prefetch(ctx, fetcher, src, bounds, minZoom, maxZoom, opts.Concurrency, opts.Force)
		total.Queued += st.Queued
		total.Downloaded += st.Downloaded
		total.Cached += st.Cached
		total.Missing += st.Missing
		total.Failed += st.Failed
	}

	log.Info().
		Int("queued", total.Queued).
		Int("downloaded", total.Downloaded).
		Int("cached", total.Cached).
		Int("missing", total.Missing).
		Int("failed", total.Failed).
		Dur("duration", time.Since(start)).
		Msg("Loader finished successfully")
}

// farmBounds prefers the stored boundary over the configured bounds.
func farmBounds(ctx context.Context, cfg *config.Config) (geo.Bounds, error) {
	var zones collab.ZoneStore = collab.FileStore{Dir: cfg.ZonesDir}
	if cfg.PersistenceURL != "" {
		zones = collab.NewHTTPStore(cfg.PersistenceURL)
	}

	features, err := zones.LoadZones(ctx, cfg.Farm.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Stored zones unavailable, using configured bounds")
	}
	for _, f := range features {
		if f.IsBoundary() && f.Geometry != nil {
			return geo.BoundsFromOrb(f.Geometry.Bound()), nil
		}
	}

	if !cfg.Farm.Bounds.Valid() {
		return geo.Bounds{}, errNoBounds
	}
	return cfg.Farm.Bounds, nil
}

// pad grows the bounds by margin metres on every side.
func pad(b geo.Bounds, margin float64) geo.Bounds {
	if margin <= 0 {
		return b
	}
	dLat := geo.DegreesLat(margin)
	dLng := geo.DegreesLng(margin, b.Center().Lat())
	return geo.Bounds{
		North: b.North + dLat,
		South: b.South - dLat,
		East:  b.East + dLng,
		West:  b.West - dLng,
	}
}
