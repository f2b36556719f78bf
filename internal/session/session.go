// Package session orchestrates repeated shadow resolves as the analyzed
// time changes: it pins the origin point at start, caches fetched building
// footprints per location, and guarantees the state machine never wedges in
// a fetching state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sunspot-io/sunspot/internal/footprint"
	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/shadow"
	"github.com/sunspot-io/sunspot/internal/solar"
)

// State is the analysis lifecycle state.
type State int

const (
	// Inactive means no analysis is running.
	Inactive State = iota
	// Fetching means footprints are being retrieved for the start point.
	Fetching
	// Active means a resolve result is available.
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Fetching:
		return "fetching"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInactive is returned by operations that require a started session.
var ErrInactive = eris.New("session: not active")

// ErrInvalidPoint is returned by Start for unusable coordinates.
var ErrInvalidPoint = eris.New("session: invalid point")

// Config tunes session behavior.
type Config struct {
	// CacheRadiusM is how far a new start point may be from a cached fetch
	// point and still reuse its footprints. Default 10 m.
	CacheRadiusM float64
	// FetchTimeout bounds a footprint fetch so the session can never hang
	// in the fetching state. Default 8 s.
	FetchTimeout time.Duration
	// MaxCacheEntries caps the per-location footprint cache. Default 16.
	MaxCacheEntries int
}

// DefaultConfig returns production session settings.
func DefaultConfig() Config {
	return Config{
		CacheRadiusM:    10,
		FetchTimeout:    8 * time.Second,
		MaxCacheEntries: 16,
	}
}

// cacheEntry is a footprint set keyed by the point it was fetched for.
type cacheEntry struct {
	point      geodesic.Point
	footprints []footprint.Footprint
}

// Controller owns one analysis session. All mutable state (cache, pinned
// origin, latest result) is owned exclusively by the controller and guarded
// by its mutex; resolves themselves are pure.
type Controller struct {
	provider footprint.Provider
	resolver *shadow.Resolver
	cfg      Config

	// fetches deduplicates concurrent footprint fetches per point, so a
	// Start arriving while a fetch is outstanding never issues a duplicate.
	fetches singleflight.Group

	mu     sync.Mutex
	state  State
	origin geodesic.Point
	at     time.Time
	sun    solar.State
	result *shadow.Result
	cache  []cacheEntry
	// epoch invalidates in-flight fetches: a fetch started before Exit (or
	// a newer Start) must not mutate session state when it lands.
	epoch uint64
}

// New creates an inactive session controller.
func New(provider footprint.Provider, resolver *shadow.Resolver, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.CacheRadiusM <= 0 {
		cfg.CacheRadiusM = def.CacheRadiusM
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = def.MaxCacheEntries
	}
	return &Controller{provider: provider, resolver: resolver, cfg: cfg}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the latest shadow result, nil when inactive or still
// fetching.
func (c *Controller) Result() *shadow.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Sun returns the solar state of the latest resolve.
func (c *Controller) Sun() solar.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sun
}

// Origin returns the pinned analysis point.
func (c *Controller) Origin() geodesic.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.origin
}

// Start begins (or restarts) analysis at point p for time at. Footprints
// are fetched unless a cached set covers a point within the cache radius.
// A provider failure degrades to a zero-footprint resolve instead of
// leaving the session stuck fetching.
func (c *Controller) Start(ctx context.Context, p geodesic.Point, at time.Time) (*shadow.Result, error) {
	if !p.Valid() {
		return nil, ErrInvalidPoint
	}

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.state = Fetching
	c.origin = p
	c.at = at
	c.result = nil
	cached, ok := c.lookupCacheLocked(p)
	c.mu.Unlock()

	var fps []footprint.Footprint
	fetched := false
	if ok {
		fps = cached
	} else {
		fps, fetched = c.fetch(ctx, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		// Session exited or restarted while we were fetching; drop the
		// stale result without touching state.
		return nil, ErrInactive
	}
	if fetched {
		c.storeCacheLocked(p, fps)
	}
	return c.resolveLocked(at, fps)
}

// OnTimeChanged recomputes the solar state for the pinned origin (never a
// live map center) and re-resolves against the cached footprints. A resolve
// failure keeps the previous result in place.
func (c *Controller) OnTimeChanged(at time.Time) (*shadow.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Inactive {
		return nil, ErrInactive
	}

	fps, _ := c.lookupCacheLocked(c.origin)
	res, err := c.resolveLocked(at, fps)
	if err != nil {
		// Leave the last valid result in place; the session stays active.
		zap.L().Warn("session: re-resolve failed, keeping previous result", zap.Error(err))
		return c.result, nil
	}
	return res, nil
}

// Exit tears the session down. The latest result and solar state are
// cleared; the footprint cache is kept for a future Start at the same spot.
func (c *Controller) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.state = Inactive
	c.result = nil
	c.sun = solar.State{}
	c.origin = geodesic.Point{}
	c.at = time.Time{}
}

// fetch retrieves footprints for p with timeout and single-flight
// deduplication. The second return reports whether the fetch succeeded and
// may be cached; failures are logged and degrade to an empty set.
func (c *Controller) fetch(ctx context.Context, p geodesic.Point) ([]footprint.Footprint, bool) {
	key := fmt.Sprintf("%.6f,%.6f", p.Lng, p.Lat)
	v, err, _ := c.fetches.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
		return c.provider.Footprints(fetchCtx, p)
	})
	if err != nil {
		// Treat the location as having no buildings rather than failing the
		// session; the result is conservative ("sunlit") but displayable.
		zap.L().Warn("session: footprint fetch failed, assuming open sky",
			zap.String("point", key), zap.Error(err))
		return nil, false
	}
	fps, _ := v.([]footprint.Footprint)
	return fps, true
}

// resolveLocked recomputes solar state and shadow result. Caller holds mu.
func (c *Controller) resolveLocked(at time.Time, fps []footprint.Footprint) (*shadow.Result, error) {
	sun, err := solar.Position(at, c.origin)
	if err != nil {
		return nil, eris.Wrap(err, "session: solar position")
	}

	res := c.resolver.Resolve(c.origin, sun, fps)
	c.sun = sun
	c.at = at
	c.result = &res
	c.state = Active

	zap.L().Debug("session: resolved",
		zap.Time("at", at),
		zap.Float64("altitude", sun.AltitudeDeg),
		zap.Float64("bearing", sun.BearingDeg),
		zap.Bool("in_shadow", res.InShadow),
		zap.String("blocker", res.BlockerID),
	)
	return &res, nil
}

// lookupCacheLocked finds a cached footprint set fetched within the cache
// radius of p. Caller holds mu.
func (c *Controller) lookupCacheLocked(p geodesic.Point) ([]footprint.Footprint, bool) {
	for _, e := range c.cache {
		if geodesic.DistanceMeters(e.point, p) <= c.cfg.CacheRadiusM {
			return e.footprints, true
		}
	}
	return nil, false
}

// storeCacheLocked records a fetched footprint set, evicting the oldest
// entry past the cap. Caller holds mu.
func (c *Controller) storeCacheLocked(p geodesic.Point, fps []footprint.Footprint) {
	c.cache = append(c.cache, cacheEntry{point: p, footprints: fps})
	if len(c.cache) > c.cfg.MaxCacheEntries {
		c.cache = c.cache[1:]
	}
}
