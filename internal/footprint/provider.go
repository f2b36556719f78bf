package footprint

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/resilience"
)

// Source fetches raw GeoJSON features around a point. pkg/mapbox implements
// this; tests substitute fixtures.
type Source interface {
	Query(ctx context.Context, lng, lat float64) (*geojson.FeatureCollection, error)
}

// SourceProvider adapts a raw GeoJSON Source into a Provider: it retries
// transient fetch failures and applies the ingestion policy (geometry
// filtering and height estimation) to the result.
type SourceProvider struct {
	source Source
	retry  resilience.RetryConfig
}

// SourceOption configures a SourceProvider.
type SourceOption func(*SourceProvider)

// WithRetry overrides the retry configuration for fetches.
func WithRetry(cfg resilience.RetryConfig) SourceOption {
	return func(p *SourceProvider) {
		p.retry = cfg
	}
}

// NewSourceProvider wraps src as a Provider.
func NewSourceProvider(src Source, opts ...SourceOption) *SourceProvider {
	p := &SourceProvider{
		source: src,
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Footprints fetches and converts the footprints around p.
func (p *SourceProvider) Footprints(ctx context.Context, pt geodesic.Point) ([]Footprint, error) {
	if !pt.Valid() {
		return nil, eris.New("footprint: invalid point")
	}

	fc, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*geojson.FeatureCollection, error) {
		return p.source.Query(ctx, pt.Lng, pt.Lat)
	})
	if err != nil {
		return nil, eris.Wrap(err, "footprint: fetch")
	}

	fps := FromFeatureCollection(fc)
	zap.L().Debug("footprint: fetched",
		zap.Float64("lng", pt.Lng),
		zap.Float64("lat", pt.Lat),
		zap.Int("features", len(fc.Features)),
		zap.Int("footprints", len(fps)),
	)
	return fps, nil
}
