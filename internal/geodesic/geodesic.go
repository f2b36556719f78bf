// Package geodesic provides the spherical-geometry primitives used by the
// shadow engine: great-circle destination and distance, initial bearing, and
// planar line/polygon-boundary intersection over lon/lat coordinates.
//
// Polygon edges are treated as straight segments in lon/lat space, which is
// an acceptable approximation at city-block scale.
package geodesic

import (
	"math"

	"github.com/twpayne/go-geom"
)

// EarthRadiusKm is the mean Earth radius of the spherical model.
const EarthRadiusKm = 6371.0

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// Point is an immutable WGS84 coordinate pair in degrees.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Valid reports whether the point has finite coordinates inside the WGS84
// domain. Invalid points must short-circuit to neutral results upstream.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return false
	}
	return p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Coord returns the point as a go-geom XY coordinate.
func (p Point) Coord() geom.Coord {
	return geom.Coord{p.Lng, p.Lat}
}

// Destination returns the point reached by travelling distanceKm along a
// great circle from p at the given bearing (degrees clockwise from true
// north).
func Destination(p Point, distanceKm, bearingDeg float64) Point {
	ad := distanceKm / EarthRadiusKm // angular distance
	br := bearingDeg * deg2rad
	lat1 := p.Lat * deg2rad
	lng1 := p.Lng * deg2rad

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ad) + math.Cos(lat1)*math.Sin(ad)*math.Cos(br))
	lng2 := lng1 + math.Atan2(
		math.Sin(br)*math.Sin(ad)*math.Cos(lat1),
		math.Cos(ad)-math.Sin(lat1)*math.Sin(lat2),
	)

	// Normalize longitude to [-180, 180).
	lng := math.Mod(lng2*rad2deg+540, 360) - 180
	return Point{Lng: lng, Lat: lat2 * rad2deg}
}

// DistanceMeters returns the haversine distance between a and b in meters.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Lat * deg2rad
	lat2 := b.Lat * deg2rad
	dLat := (b.Lat - a.Lat) * deg2rad
	dLng := (b.Lng - a.Lng) * deg2rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * 1000 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalized to [0, 360).
func Bearing(a, b Point) float64 {
	lat1 := a.Lat * deg2rad
	lat2 := b.Lat * deg2rad
	dLng := (b.Lng - a.Lng) * deg2rad

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return math.Mod(math.Atan2(y, x)*rad2deg+360, 360)
}

// Line is a straight segment in lon/lat space.
type Line struct {
	A Point
	B Point
}

// minRingPoints is the smallest coordinate count of a well-formed closed
// ring (triangle plus the closing duplicate).
const minRingPoints = 4

// ringClosed reports whether the ring's first and last coordinates coincide.
func ringClosed(ring []geom.Coord) bool {
	first, last := ring[0], ring[len(ring)-1]
	return first[0] == last[0] && first[1] == last[1]
}

// RingValid reports whether ring is a usable closed ring: at least four
// points with identical first and last coordinates. Malformed rings are
// skipped by intersection tests rather than treated as errors.
func RingValid(ring []geom.Coord) bool {
	return len(ring) >= minRingPoints && ringClosed(ring)
}

// segmentIntersection returns the intersection of segments p1-p2 and p3-p4,
// if any. Collinear overlaps report no intersection; the shadow resolver
// only needs boundary crossings.
func segmentIntersection(p1, p2, p3, p4 Point) (Point, bool) {
	d1x, d1y := p2.Lng-p1.Lng, p2.Lat-p1.Lat
	d2x, d2y := p4.Lng-p3.Lng, p4.Lat-p3.Lat

	denom := d1x*d2y - d1y*d2x
	if denom == 0 {
		return Point{}, false
	}

	t := ((p3.Lng-p1.Lng)*d2y - (p3.Lat-p1.Lat)*d2x) / denom
	u := ((p3.Lng-p1.Lng)*d1y - (p3.Lat-p1.Lat)*d1x) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Point{}, false
	}

	return Point{Lng: p1.Lng + t*d1x, Lat: p1.Lat + t*d1y}, true
}

// LineRingIntersections returns every crossing of l with the ring's edges.
// Malformed rings yield no intersections.
func LineRingIntersections(l Line, ring []geom.Coord) []Point {
	if !RingValid(ring) {
		return nil
	}
	var pts []Point
	for i := 0; i < len(ring)-1; i++ {
		a := Point{Lng: ring[i][0], Lat: ring[i][1]}
		b := Point{Lng: ring[i+1][0], Lat: ring[i+1][1]}
		if p, ok := segmentIntersection(l.A, l.B, a, b); ok {
			pts = append(pts, p)
		}
	}
	return pts
}

// LinePolygonIntersections returns every crossing of l with any ring of the
// polygon, exterior and interior alike. Nil polygons and malformed rings are
// skipped.
func LinePolygonIntersections(l Line, poly *geom.Polygon) []Point {
	if poly == nil {
		return nil
	}
	var pts []Point
	for i := 0; i < poly.NumLinearRings(); i++ {
		pts = append(pts, LineRingIntersections(l, poly.LinearRing(i).Coords())...)
	}
	return pts
}

// LineIntersectsPolygon reports whether l crosses the polygon boundary.
func LineIntersectsPolygon(l Line, poly *geom.Polygon) bool {
	if poly == nil {
		return false
	}
	for i := 0; i < poly.NumLinearRings(); i++ {
		ring := poly.LinearRing(i).Coords()
		if !RingValid(ring) {
			continue
		}
		for j := 0; j < len(ring)-1; j++ {
			a := Point{Lng: ring[j][0], Lat: ring[j][1]}
			b := Point{Lng: ring[j+1][0], Lat: ring[j+1][1]}
			if _, ok := segmentIntersection(l.A, l.B, a, b); ok {
				return true
			}
		}
	}
	return false
}
