package main

import (
	"fmt"
	"os"

	"github.com/woozymasta/farmcanvas/internal/config"
	"github.com/woozymasta/farmcanvas/internal/geo"
	"github.com/woozymasta/farmcanvas/internal/grid"

	"github.com/jessevdk/go-flags"
	"github.com/tdewolff/minify/v2"
	mjson "github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"gopkg.in/yaml.v3"
)

type Options struct {
	ConfigFile string  `short:"c" long:"config"  description:"Read bounds, unit and thresholds from a configuration file"`
	Output     string  `short:"o" long:"out"     description:"Output file path. Writes to stdout if empty"`
	Format     string  `short:"f" long:"format"  description:"Output format" choice:"geojson" choice:"yaml" choice:"svg" default:"geojson"`
	Unit       string  `short:"u" long:"unit"    description:"Grid unit" choice:"imperial" choice:"metric"`
	Density    string  `short:"d" long:"density" description:"Label density" choice:"auto" choice:"sparse" choice:"normal" choice:"dense" choice:"off"`
	Zoom       float64 `short:"z" long:"zoom"    description:"Zoom the grid is generated for" default:"18"`
	Width      int     `short:"w" long:"width"   description:"SVG width in pixels" default:"1024"`
	North      float64 `long:"north" description:"Farm north edge"`
	South      float64 `long:"south" description:"Farm south edge"`
	East       float64 `long:"east"  description:"Farm east edge"`
	West       float64 `long:"west"  description:"Farm west edge"`
}

type export struct {
	Grid   grid.Grid    `yaml:"grid"`
	Lines  []grid.Line  `yaml:"lines"`
	Labels []grid.Label `yaml:"labels"`
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

	engine := grid.Default
	unit, density := grid.Imperial, grid.DensityAuto
	bounds := geo.Bounds{North: opts.North, South: opts.South, East: opts.East, West: opts.West}

	if opts.ConfigFile != "" {
		cfg, err := config.Load(opts.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading configuration: %v\n", err)
			os.Exit(1)
		}
		engine = grid.Engine{Settings: cfg.Grid.Settings}
		unit, density = cfg.GridUnit(), cfg.GridDensity()
		if bounds == (geo.Bounds{}) {
			bounds = cfg.Farm.Bounds
		}
	}
	if opts.Unit != "" {
		unit = grid.Unit(opts.Unit)
	}
	if opts.Density != "" {
		density = grid.Density(opts.Density)
	}

	if !bounds.Valid() {
		fmt.Fprintln(os.Stderr, "Error: farm bounds are required (--north/--south/--east/--west or --config)")
		os.Exit(1)
	}

	sub := engine.SubdivisionFor(opts.Zoom)
	lines := engine.GenerateGridLines(bounds, unit, opts.Zoom, density, sub)
	labels := engine.GenerateViewportLabels(bounds, geo.Viewport{Bounds: bounds, Zoom: opts.Zoom}, unit, opts.Zoom, density, sub)

	m := minify.New()
	m.Add("application/geo+json", &mjson.Minifier{Precision: 10})
	m.AddFunc("image/svg+xml", svg.Minify)

	var outputData []byte
	var err error
	switch opts.Format {
	case "yaml":
		outputData, err = yaml.Marshal(export{Grid: lines.Grid, Lines: lines.Lines, Labels: labels})
	case "svg":
		outputData, err = m.Bytes("image/svg+xml", lines.SVG(labels, opts.Width))
	default:
		fc := lines.FeatureCollection()
		for _, f := range grid.LabelsFeatureCollection(labels).Features {
			fc.Append(f)
		}
		if outputData, err = fc.MarshalJSON(); err == nil {
			outputData, err = m.Bytes("application/geo+json", outputData)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding grid: %v\n", err)
		os.Exit(1)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, outputData, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Successfully wrote %dx%d grid (%d lines, %d labels) to %s (format: %s)\n",
			lines.Grid.Columns, lines.Grid.Rows, len(lines.Lines), len(labels), opts.Output, opts.Format)
	} else {
		fmt.Println(string(outputData))
	}
}
