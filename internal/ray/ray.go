// Package ray builds the 3D sun-ray geometry: projecting a bearing and
// solar altitude into a ground position plus elevation, and tessellating
// the line into extrudable quad segments for rendering.
package ray

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sunspot-io/sunspot/internal/geodesic"
)

const deg2rad = math.Pi / 180

// DefaultSegmentCount is the number of quads a ray ribbon is tessellated
// into.
const DefaultSegmentCount = 20

// ribbonHalfWidthKm is half the rendered ribbon width (0.2 m total).
const ribbonHalfWidthKm = 0.0001

// Destination3D is a point along a sun ray: a ground position plus the
// ray's elevation above it.
type Destination3D struct {
	Position   geodesic.Point `json:"position"`
	ElevationM float64        `json:"elevation_m"`
}

// Project travels distanceKm from origin toward the sun at the given
// bearing and altitude. The travel distance splits into a horizontal
// component distance*cos(altitude), applied as a great-circle destination,
// and a vertical component distance*sin(altitude) converted to meters.
// At altitude 90 the ray goes straight up; at 0 it is level with the
// ground.
func Project(origin geodesic.Point, distanceKm, bearingDeg, altitudeDeg float64) Destination3D {
	alt := altitudeDeg * deg2rad
	horizontalKm := distanceKm * math.Cos(alt)
	verticalKm := distanceKm * math.Sin(alt)

	return Destination3D{
		Position:   geodesic.Destination(origin, horizontalKm, bearingDeg),
		ElevationM: verticalKm * 1000,
	}
}

// Direction returns the unit vector toward the sun in a local
// east/north/up frame, for renderers that want the ray as a 3D direction
// rather than tessellated geometry.
func Direction(bearingDeg, altitudeDeg float64) r3.Vec {
	br := bearingDeg * deg2rad
	alt := altitudeDeg * deg2rad
	return r3.Unit(r3.Vec{
		X: math.Sin(br) * math.Cos(alt),
		Y: math.Cos(br) * math.Cos(alt),
		Z: math.Sin(alt),
	})
}

// Segment is one slice of the tessellated ray ribbon: a thin planar quad
// with base and top elevations, extrudable by the rendering layer.
type Segment struct {
	BaseElevationM float64
	TopElevationM  float64
	// Quad is a closed rectangle perpendicular to the segment direction,
	// about 0.2 m wide.
	Quad *geom.Polygon
}

// segmentJSON is the wire shape of a Segment; the quad is GeoJSON.
type segmentJSON struct {
	BaseElevationM float64         `json:"base_elevation_m"`
	TopElevationM  float64         `json:"top_elevation_m"`
	Quad           json.RawMessage `json:"quad"`
}

// MarshalJSON encodes the quad as a GeoJSON Polygon.
func (s Segment) MarshalJSON() ([]byte, error) {
	quad, err := geojson.Marshal(s.Quad)
	if err != nil {
		return nil, eris.Wrap(err, "ray: marshal segment quad")
	}
	return json.Marshal(segmentJSON{
		BaseElevationM: s.BaseElevationM,
		TopElevationM:  s.TopElevationM,
		Quad:           quad,
	})
}

// Ribbon tessellates the ray from start to end into count quad segments,
// linearly interpolating position and elevation. The result is rebuilt in
// full on every call; segments are never mutated in place.
func Ribbon(start, end geodesic.Point, startElevationM, endElevationM float64, count int) []Segment {
	if count <= 0 {
		count = DefaultSegmentCount
	}

	// Quads are oriented perpendicular to the overall ray direction. For a
	// vertical ray the ground track is a point and the orientation is
	// arbitrary; north keeps it deterministic.
	bearing := 0.0
	if geodesic.DistanceMeters(start, end) > 1e-6 {
		bearing = geodesic.Bearing(start, end)
	}

	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		t0 := float64(i) / float64(count)
		t1 := float64(i+1) / float64(count)

		p0 := lerp(start, end, t0)
		p1 := lerp(start, end, t1)

		segments = append(segments, Segment{
			BaseElevationM: startElevationM + (endElevationM-startElevationM)*t0,
			TopElevationM:  startElevationM + (endElevationM-startElevationM)*t1,
			Quad:           quad(p0, p1, bearing),
		})
	}
	return segments
}

// lerp interpolates between two points linearly in lon/lat space.
func lerp(a, b geodesic.Point, t float64) geodesic.Point {
	return geodesic.Point{
		Lng: a.Lng + (b.Lng-a.Lng)*t,
		Lat: a.Lat + (b.Lat-a.Lat)*t,
	}
}

// quad builds the closed rectangle spanning p0 to p1, offset half the
// ribbon width to each side of the given bearing.
func quad(p0, p1 geodesic.Point, bearingDeg float64) *geom.Polygon {
	left := math.Mod(bearingDeg+270, 360)
	right := math.Mod(bearingDeg+90, 360)

	l0 := geodesic.Destination(p0, ribbonHalfWidthKm, left)
	r0 := geodesic.Destination(p0, ribbonHalfWidthKm, right)
	l1 := geodesic.Destination(p1, ribbonHalfWidthKm, left)
	r1 := geodesic.Destination(p1, ribbonHalfWidthKm, right)

	return geom.NewPolygonFlat(geom.XY, []float64{
		l0.Lng, l0.Lat,
		r0.Lng, r0.Lat,
		r1.Lng, r1.Lat,
		l1.Lng, l1.Lat,
		l0.Lng, l0.Lat,
	}, []int{10})
}
