// Package footprint models building footprints and owns the ingestion
// boundary: converting provider GeoJSON into footprints and applying the
// height-estimation policy for features that lack an explicit height.
package footprint

import (
	"context"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sunspot-io/sunspot/internal/geodesic"
)

// Footprint is a building ground plan with the height used for occlusion
// testing. Geometry is a Polygon or MultiPolygon in lon/lat.
type Footprint struct {
	ID       string
	Geometry geom.T
	HeightM  float64
}

// Polygons expands the footprint geometry into simple polygons. Unsupported
// geometry types yield nil.
func (f Footprint) Polygons() []*geom.Polygon {
	switch g := f.Geometry.(type) {
	case *geom.Polygon:
		return []*geom.Polygon{g}
	case *geom.MultiPolygon:
		polys := make([]*geom.Polygon, 0, g.NumPolygons())
		for i := 0; i < g.NumPolygons(); i++ {
			polys = append(polys, g.Polygon(i))
		}
		return polys
	default:
		return nil
	}
}

// Provider retrieves the building footprints around a point. An empty
// result is a valid "no buildings nearby" answer, not an error.
type Provider interface {
	Footprints(ctx context.Context, p geodesic.Point) ([]Footprint, error)
}

// Height-estimation policy constants. The policy must stay in one place so
// it can be swapped per provider without touching the resolver.
const (
	// LevelHeightM is the assumed height of one building level.
	LevelHeightM = 3.0
	// DefaultBuildingHeightM is assumed for features flagged as buildings
	// with neither a height nor a level count.
	DefaultBuildingHeightM = 15.0
)

// Attributes are the height-relevant properties of a provider feature.
type Attributes struct {
	// HeightM is the explicit height, 0 when absent.
	HeightM float64
	// Levels is the floor count, 0 when absent.
	Levels float64
	// IsBuilding marks features tagged as buildings at all.
	IsBuilding bool
}

// EstimateHeight resolves a footprint height from feature attributes:
// explicit height wins, then levels x 3 m, then a flat 15 m for anything
// flagged as a building. Everything else resolves to 0 and is treated as
// non-blocking.
func EstimateHeight(a Attributes) float64 {
	switch {
	case a.HeightM > 0:
		return a.HeightM
	case a.Levels > 0:
		return a.Levels * LevelHeightM
	case a.IsBuilding:
		return DefaultBuildingHeightM
	default:
		return 0
	}
}

// FromFeatureCollection converts provider GeoJSON features into footprints,
// applying the height policy. Features without polygonal geometry or with a
// resolved height of 0 are skipped.
func FromFeatureCollection(fc *geojson.FeatureCollection) []Footprint {
	if fc == nil {
		return nil
	}

	fps := make([]Footprint, 0, len(fc.Features))
	for i, feat := range fc.Features {
		if feat == nil {
			continue
		}
		switch feat.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		default:
			continue
		}

		height := EstimateHeight(featureAttributes(feat.Properties))
		if height <= 0 {
			zap.L().Debug("footprint: skipping non-blocking feature", zap.String("id", feat.ID))
			continue
		}

		id := feat.ID
		if id == "" {
			id = fmt.Sprintf("feature-%d", i)
		}
		fps = append(fps, Footprint{ID: id, Geometry: feat.Geometry, HeightM: height})
	}
	return fps
}

// featureAttributes extracts height attributes from loosely-typed GeoJSON
// properties. Mapbox building layers carry "height" in meters and a
// "building" flag; OSM-derived sources add "building:levels".
func featureAttributes(props map[string]interface{}) Attributes {
	a := Attributes{
		HeightM: numericProp(props, "height"),
		Levels:  numericProp(props, "building:levels", "levels"),
	}

	switch v := props["building"].(type) {
	case bool:
		a.IsBuilding = v
	case string:
		a.IsBuilding = v != "" && v != "no"
	}
	if !a.IsBuilding {
		// Mapbox streets tags extrudable buildings with extrude=true.
		if v, ok := props["extrude"].(string); ok && v == "true" {
			a.IsBuilding = true
		}
		if v, ok := props["type"].(string); ok && v == "building" {
			a.IsBuilding = true
		}
	}
	return a
}

// numericProp reads the first present key as a float64, accepting JSON
// numbers and numeric strings.
func numericProp(props map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := props[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			var f float64
			if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
				return f
			}
		}
	}
	return 0
}
