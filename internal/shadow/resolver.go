// Package shadow decides whether a ground point is sunlit or shaded by a
// nearby building, and builds the 3D ray geometry either way. This is the
// central algorithm of the engine: a 2D ray-vs-footprint intersection test
// combined with a height-versus-ray-height comparison that encodes "is this
// building tall enough, at this distance, to occlude a sun ray at this
// altitude". The model is flat ground, point sun, no refraction, no
// penumbra.
package shadow

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sunspot-io/sunspot/internal/footprint"
	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/ray"
	"github.com/sunspot-io/sunspot/internal/solar"
)

// Result is the outcome of one resolve. It is built fresh on every call;
// no state is shared between calls.
type Result struct {
	// InShadow reports whether the origin is occluded (or the sun is below
	// the horizon).
	InShadow bool `json:"in_shadow"`
	// Blocker is the nearest footprint that occludes the sun, nil when
	// sunlit.
	Blocker *footprint.Footprint `json:"-"`
	// BlockerID identifies the blocker for highlighting.
	BlockerID string `json:"blocker_id,omitempty"`
	// Intersection is where the sun ray meets the blocker's boundary, nil
	// when sunlit.
	Intersection *geodesic.Point `json:"intersection,omitempty"`
	// Ray is the tessellated 3D ray: full length when sunlit, truncated at
	// the blocker when shaded, nil at night.
	Ray []ray.Segment `json:"ray,omitempty"`
	// SunDirection is the sun-ward unit vector (east, north, up) for
	// renderers that want the ray's 3D orientation directly; nil at night.
	SunDirection *r3.Vec `json:"sun_direction,omitempty"`
}

// Config holds the resolver's geometry constants.
type Config struct {
	// RayLengthKm is how far toward the sun the test ray extends.
	RayLengthKm float64
	// ClearSkyRayKm is the ray length shown when there is nothing nearby to
	// check.
	ClearSkyRayKm float64
	// SegmentCount is the ribbon tessellation count.
	SegmentCount int
}

// DefaultConfig returns the production geometry constants.
func DefaultConfig() Config {
	return Config{
		RayLengthKm:   1.0,
		ClearSkyRayKm: 0.5,
		SegmentCount:  ray.DefaultSegmentCount,
	}
}

// Resolver runs shadow analysis. It is stateless and safe to call
// repeatedly; every call is pure and deterministic for identical inputs.
type Resolver struct {
	cfg Config
}

// NewResolver creates a Resolver, substituting defaults for zero config
// fields.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.RayLengthKm <= 0 {
		cfg.RayLengthKm = def.RayLengthKm
	}
	if cfg.ClearSkyRayKm <= 0 {
		cfg.ClearSkyRayKm = def.ClearSkyRayKm
	}
	if cfg.SegmentCount <= 0 {
		cfg.SegmentCount = def.SegmentCount
	}
	return &Resolver{cfg: cfg}
}

// blockingHit is one boundary crossing that occludes the sun.
type blockingHit struct {
	fp        footprint.Footprint
	point     geodesic.Point
	distM     float64
	rayHeight float64
}

// Resolve determines the shadow status of origin under the given sun state
// against the footprint set.
//
// Night (altitude <= 0) short-circuits to full shadow with no geometry. An
// empty footprint set yields a sunlit clear-sky ray. Otherwise every
// boundary crossing of the 2D sun-ray line is tested with the blocking
// rule height > distance*tan(altitude); among blocking crossings the
// smallest ground distance from origin wins, first seen winning exact ties.
func (r *Resolver) Resolve(origin geodesic.Point, sun solar.State, fps []footprint.Footprint) Result {
	if !origin.Valid() || math.IsNaN(sun.AltitudeDeg) || math.IsNaN(sun.BearingDeg) {
		// Interactive callers feed rapidly-changing input; answer neutrally
		// instead of failing.
		return Result{}
	}

	if sun.Night() {
		return Result{InShadow: true}
	}

	dir := ray.Direction(sun.BearingDeg, sun.AltitudeDeg)

	if len(fps) == 0 {
		end := ray.Project(origin, r.cfg.ClearSkyRayKm, sun.BearingDeg, sun.AltitudeDeg)
		return Result{
			InShadow:     false,
			Ray:          ray.Ribbon(origin, end.Position, 0, end.ElevationM, r.cfg.SegmentCount),
			SunDirection: &dir,
		}
	}

	rayEnd := ray.Project(origin, r.cfg.RayLengthKm, sun.BearingDeg, sun.AltitudeDeg)
	// Oriented from the sun side toward the observation point; direction
	// only matters for consistent intersection computation.
	line := geodesic.Line{A: rayEnd.Position, B: origin}
	tanAlt := math.Tan(sun.AltitudeDeg * (math.Pi / 180))

	best := r.nearestBlocker(origin, line, tanAlt, fps)
	if best == nil {
		return Result{
			InShadow:     false,
			Ray:          ray.Ribbon(origin, rayEnd.Position, 0, rayEnd.ElevationM, r.cfg.SegmentCount),
			SunDirection: &dir,
		}
	}

	pt := best.point
	blocker := best.fp
	return Result{
		InShadow:     true,
		Blocker:      &blocker,
		BlockerID:    blocker.ID,
		Intersection: &pt,
		Ray:          ray.Ribbon(origin, pt, 0, best.rayHeight, r.cfg.SegmentCount),
		SunDirection: &dir,
	}
}

// nearestBlocker scans every footprint for the blocking boundary crossing
// closest to origin. Footprints with no resolved height and degenerate
// rings are skipped; a single bad footprint never aborts the scan.
func (r *Resolver) nearestBlocker(origin geodesic.Point, line geodesic.Line, tanAlt float64, fps []footprint.Footprint) *blockingHit {
	var best *blockingHit
	minDist := math.Inf(1)

	for _, fp := range fps {
		if fp.HeightM <= 0 {
			continue
		}
		polys := fp.Polygons()
		if polys == nil {
			zap.L().Debug("shadow: skipping footprint with unsupported geometry", zap.String("id", fp.ID))
			continue
		}
		for _, poly := range polys {
			for _, pt := range geodesic.LinePolygonIntersections(line, poly) {
				dist := geodesic.DistanceMeters(origin, pt)
				rayHeight := dist * tanAlt
				if fp.HeightM > rayHeight && dist < minDist {
					minDist = dist
					best = &blockingHit{fp: fp, point: pt, distM: dist, rayHeight: rayHeight}
				}
			}
		}
	}
	return best
}
