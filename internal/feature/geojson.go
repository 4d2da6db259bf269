package feature

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Property keys used in GeoJSON.
const (
	PropZoneType = "zoneType"
	PropLabel    = "label"
	PropBoundary = "boundary"
)

// ToGeoJSON converts features to a collection whose feature IDs are the
// store IDs.
func ToGeoJSON(features []Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		gf.Properties[PropZoneType] = f.ZoneType
		gf.Properties[PropLabel] = f.Label
		gf.Properties[PropBoundary] = f.IsBoundary()
		fc.Append(gf)
	}
	return fc
}

// FromGeoJSON reads features back from a collection.
func FromGeoJSON(fc *geojson.FeatureCollection) ([]Feature, error) {
	if fc == nil {
		return nil, nil
	}
	out := make([]Feature, 0, len(fc.Features))
	for i, gf := range fc.Features {
		if gf.Geometry == nil {
			return nil, fmt.Errorf("feature %d: %w", i, ErrInvalidGeometry)
		}
		f := Feature{
			Geometry: gf.Geometry,
			ZoneType: gf.Properties.MustString(PropZoneType, ""),
			Label:    gf.Properties.MustString(PropLabel, ""),
		}
		switch id := gf.ID.(type) {
		case string:
			f.ID = id
		case nil:
		default:
			f.ID = fmt.Sprint(id)
		}
		out = append(out, f)
	}
	return out, nil
}
