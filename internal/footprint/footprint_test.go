package footprint

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/resilience"
)

func TestEstimateHeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Attributes
		want float64
	}{
		{"explicit height wins", Attributes{HeightM: 22.5, Levels: 4, IsBuilding: true}, 22.5},
		{"levels times three", Attributes{Levels: 4, IsBuilding: true}, 12},
		{"building flag fallback", Attributes{IsBuilding: true}, 15},
		{"fractional levels", Attributes{Levels: 2.5}, 7.5},
		{"nothing known", Attributes{}, 0},
		{"negative height ignored", Attributes{HeightM: -3, Levels: 2}, 6},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, EstimateHeight(tt.in), 1e-9)
		})
	}
}

func polyAround(lng, lat, half float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		lng - half, lat - half,
		lng + half, lat - half,
		lng + half, lat + half,
		lng - half, lat + half,
		lng - half, lat - half,
	}, []int{10})
}

func TestFromFeatureCollection(t *testing.T) {
	t.Parallel()

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{ID: "a", Geometry: polyAround(4.9, 52.37, 0.0002), Properties: map[string]interface{}{"height": 30.0}},
		{ID: "b", Geometry: polyAround(4.9, 52.37, 0.0002), Properties: map[string]interface{}{"building:levels": 5.0, "building": "yes"}},
		{ID: "c", Geometry: polyAround(4.9, 52.37, 0.0002), Properties: map[string]interface{}{"extrude": "true"}},
		{ID: "not-a-building", Geometry: polyAround(4.9, 52.37, 0.0002), Properties: map[string]interface{}{}},
		{ID: "point", Geometry: geom.NewPointFlat(geom.XY, []float64{4.9, 52.37}), Properties: map[string]interface{}{"building": "yes"}},
		nil,
	}}

	fps := FromFeatureCollection(fc)
	require.Len(t, fps, 3)

	byID := map[string]Footprint{}
	for _, fp := range fps {
		byID[fp.ID] = fp
	}
	assert.InDelta(t, 30, byID["a"].HeightM, 1e-9)
	assert.InDelta(t, 15, byID["b"].HeightM, 1e-9)
	assert.InDelta(t, 15, byID["c"].HeightM, 1e-9)
}

func TestFromFeatureCollectionStringHeight(t *testing.T) {
	t.Parallel()

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{Geometry: polyAround(0, 0, 0.001), Properties: map[string]interface{}{"height": "24.5", "building": "yes"}},
	}}
	fps := FromFeatureCollection(fc)
	require.Len(t, fps, 1)
	assert.InDelta(t, 24.5, fps[0].HeightM, 1e-9)
	assert.Equal(t, "feature-0", fps[0].ID)
}

func TestFromFeatureCollectionNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, FromFeatureCollection(nil))
}

func TestPolygons(t *testing.T) {
	t.Parallel()

	single := Footprint{Geometry: polyAround(0, 0, 0.001)}
	assert.Len(t, single.Polygons(), 1)

	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(polyAround(0, 0, 0.001)))
	require.NoError(t, mp.Push(polyAround(1, 1, 0.001)))
	multi := Footprint{Geometry: mp}
	assert.Len(t, multi.Polygons(), 2)

	assert.Nil(t, Footprint{Geometry: geom.NewPointFlat(geom.XY, []float64{0, 0})}.Polygons())
	assert.Nil(t, Footprint{}.Polygons())
}

// countingSource returns canned feature collections and counts calls.
type countingSource struct {
	calls int
	fc    *geojson.FeatureCollection
	errs  int // fail this many leading calls
}

func (s *countingSource) Query(ctx context.Context, lng, lat float64) (*geojson.FeatureCollection, error) {
	s.calls++
	if s.calls <= s.errs {
		return nil, resilience.NewTransientError(eris.New("boom"), 503)
	}
	return s.fc, nil
}

func TestSourceProviderRetries(t *testing.T) {
	t.Parallel()

	src := &countingSource{
		errs: 2,
		fc: &geojson.FeatureCollection{Features: []*geojson.Feature{
			{ID: "a", Geometry: polyAround(4.9, 52.37, 0.0002), Properties: map[string]interface{}{"height": 12.0}},
		}},
	}
	p := NewSourceProvider(src, WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}))

	fps, err := p.Footprints(context.Background(), geodesic.Point{Lng: 4.9, Lat: 52.37})
	require.NoError(t, err)
	assert.Len(t, fps, 1)
	assert.Equal(t, 3, src.calls)
}

func TestSourceProviderGivesUp(t *testing.T) {
	t.Parallel()

	src := &countingSource{errs: 10}
	p := NewSourceProvider(src, WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	}))

	_, err := p.Footprints(context.Background(), geodesic.Point{Lng: 4.9, Lat: 52.37})
	require.Error(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestSourceProviderInvalidPoint(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	p := NewSourceProvider(src)
	_, err := p.Footprints(context.Background(), geodesic.Point{Lng: 500, Lat: 0})
	require.Error(t, err)
	assert.Zero(t, src.calls)
}
