package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/farmcanvas/internal/autosave"
	"github.com/woozymasta/farmcanvas/internal/canvas"
	"github.com/woozymasta/farmcanvas/internal/capture"
	"github.com/woozymasta/farmcanvas/internal/collab"
	"github.com/woozymasta/farmcanvas/internal/config"
	"github.com/woozymasta/farmcanvas/internal/feature"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/logger"
	"github.com/woozymasta/farmcanvas/internal/render"
	"github.com/woozymasta/farmcanvas/internal/server"
	"github.com/woozymasta/farmcanvas/internal/tiles"

	"github.com/jessevdk/go-flags"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"  env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	Addr       string `short:"a" long:"addr"    env:"LISTEN_ADDRESS" description:"Address to listen on"       default:"127.0.0.1"`
	Port       int    `short:"p" long:"port"    env:"LISTEN_PORT"    description:"Port to listen on"          default:"8080"`
	Farm       string `short:"f" long:"farm"    env:"FARM_ID"        description:"Farm to edit, overrides the configuration"`
	Offline    bool   `short:"o" long:"offline" env:"OFFLINE"        description:"Render cached tiles only"`
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

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.Farm != "" {
		cfg.Farm.ID = opts.Farm
	}
	if opts.Offline {
		cfg.Tiles.Offline = true
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid imagery configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Zones
	var zones collab.ZoneStore = collab.FileStore{Dir: cfg.ZonesDir}
	if cfg.PersistenceURL != "" {
		zones = collab.NewHTTPStore(cfg.PersistenceURL)
	}

	store := feature.NewStore(feature.Options{LabelTimeout: cfg.Editing.LabelTimeout})
	defer store.Close()

	seeded, err := loadZones(ctx, zones, store, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("farm", cfg.Farm.ID).Msg("Failed to load zones")
	}

	saver := autosave.New(zones, cfg.Farm.ID, store.All, cfg.Editing.AutosaveDelay)
	store.OnChange(saver.HandleChange)
	if seeded {
		saver.Touch()
	}

	// Renderer
	fetcher := tiles.NewFetcher(cfg.CacheDir)
	fetcher.Quality = cfg.Tiles.Quality
	fetcher.Offline = cfg.Tiles.Offline

	farm, hasFarm := farmBounds(store, cfg)
	m := render.New(fetcher, render.Options{
		Width:       cfg.View.Width,
		Height:      cfg.View.Height,
		Center:      farm.Center(),
		Zoom:        cfg.View.Zoom,
		Concurrency: cfg.Tiles.Concurrency,
		Catalog:     catalog,
	})
	defer m.Close()

	ctl, err := canvas.New(m, store, catalog, canvas.Options{
		FarmID:           cfg.Farm.ID,
		DefaultImagery:   cfg.DefaultImagery,
		Unit:             cfg.GridUnit(),
		Density:          cfg.GridDensity(),
		Grid:             cfg.Grid.Settings,
		Snap:             cfg.Snap.Settings,
		SnapEnabled:      cfg.Snap.Enabled,
		StyleLoadTimeout: cfg.Editing.StyleLoadTimeout,
		IdleTimeout:      cfg.Editing.IdleTimeout,
		CircleSegments:   cfg.Editing.CircleSegments,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create canvas")
	}
	m.OnMove(ctl.ViewportChanged)

	if hasFarm && cfg.View.Zoom <= 0 {
		m.FitBounds(farm, cfg.View.Padding)
	}
	if err := ctl.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start canvas")
	}

	// Capture
	scene := capture.NewScene(cfg.View.Width, cfg.View.Height,
		&capture.Compass{},
		capture.NewLegend(false),
		capture.ZoomControls{},
	)
	pipe := capture.New(m, scene, ctl, cfg.Capture)

	var analyzer collab.Analyzer
	if cfg.AnalysisURL != "" {
		analyzer = collab.NewHTTPAnalyzer(cfg.AnalysisURL)
	}

	srvCtx, err := server.NewServerContext(&server.ServerContext{
		Config:     cfg,
		Catalog:    catalog,
		Controller: ctl,
		Store:      store,
		Autosave:   saver,
		Capture:    pipe,
		Analyzer:   analyzer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().
		Str("addr", listenAddr).
		Str("farm", cfg.Farm.ID).
		Str("imagery", ctl.CurrentImagery()).
		Int("features", store.Len()).
		Bool("offline", cfg.Tiles.Offline).
		Msg("Web server started")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := saver.Close(flushCtx); err != nil {
		log.Error().Err(err).Str("farm", cfg.Farm.ID).Msg("Failed to save zones on shutdown")
	}

	log.Info().Msg("Server stopped")
}

// loadZones fills the store from the persistence collaborator. A farm
// without a boundary gets one from the configured bounds; seeded reports
// that it must be saved.
func loadZones(ctx context.Context, zones collab.ZoneStore, store *feature.Store, cfg *config.Config) (seeded bool, err error) {
	features, err := zones.LoadZones(ctx, cfg.Farm.ID)
	if err != nil {
		return false, err
	}

	hasBoundary := false
	for _, f := range features {
		if f.IsBoundary() {
			hasBoundary = true
			break
		}
	}

	if !hasBoundary {
		if !cfg.Farm.Bounds.Valid() {
			log.Warn().Str("farm", cfg.Farm.ID).Msg("Farm has no boundary and no bounds are configured, grid disabled")
		} else {
			features = append(features, feature.Feature{
				Geometry: boundaryPolygon(cfg.Farm.Bounds),
				ZoneType: feature.BoundaryZone,
				Label:    cfg.Farm.Name,
			})
			seeded = true
			log.Info().Str("farm", cfg.Farm.ID).Str("bounds", cfg.Farm.Bounds.String()).Msg("Boundary seeded from configuration")
		}
	}

	if err := store.Load(features); err != nil {
		return false, err
	}

	log.Info().
		Str("farm", cfg.Farm.ID).
		Int("features", len(features)).
		Msg("Zones loaded")

	return seeded, nil
}

func boundaryPolygon(b geo.Bounds) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
		{b.West, b.South},
	}}
}

func farmBounds(store *feature.Store, cfg *config.Config) (geo.Bounds, bool) {
	if b, ok := store.Boundary(); ok && b.Geometry != nil {
		return geo.BoundsFromOrb(b.Geometry.Bound()), true
	}
	return cfg.Farm.Bounds, cfg.Farm.Bounds.Valid()
}
