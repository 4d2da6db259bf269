package grid

import (
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection converts the lines to GeoJSON for a line layer.
func (l Lines) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, line := range l.Lines {
		f := geojson.NewFeature(line.Coordinates)
		f.Properties["vertical"] = line.Vertical
		f.Properties["index"] = line.Index
		fc.Append(f)
	}
	return fc
}

// LabelsFeatureCollection converts labels to GeoJSON points for a symbol layer.
func LabelsFeatureCollection(labels []Label) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range labels {
		f := geojson.NewFeature(l.Position)
		f.Properties["kind"] = string(l.Kind)
		f.Properties["text"] = l.Text
		fc.Append(f)
	}
	return fc
}
