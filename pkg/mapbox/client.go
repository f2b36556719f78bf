// Package mapbox queries building features around a point via the Mapbox
// Tilequery API. It returns raw GeoJSON feature collections; height
// resolution and footprint filtering happen at the ingestion boundary, not
// here.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"golang.org/x/time/rate"

	"github.com/sunspot-io/sunspot/internal/resilience"
)

const (
	defaultBaseURL = "https://api.mapbox.com"
	defaultTileset = "mapbox.mapbox-streets-v8"
	defaultRadiusM = 200
	defaultLimit   = 50
)

// Client calls the Mapbox Tilequery API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	tileset    string
	token      string
	radiusM    int
	limit      int
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the API base URL (tests point this at a local
// server).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTileset sets the tileset queried for building features.
func WithTileset(ts string) Option {
	return func(c *Client) {
		c.tileset = ts
	}
}

// WithRadius sets the query radius in meters.
func WithRadius(m int) Option {
	return func(c *Client) {
		c.radiusM = m
	}
}

// WithLimit caps the number of returned features (Tilequery max is 50).
func WithLimit(n int) Option {
	return func(c *Client) {
		c.limit = n
	}
}

// WithRateLimit sets the requests-per-second rate limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

// NewClient creates a Tilequery client with the given access token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(10, 11),
		baseURL:    defaultBaseURL,
		tileset:    defaultTileset,
		token:      token,
		radiusM:    defaultRadiusM,
		limit:      defaultLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query fetches the building-layer features within the configured radius of
// the point. HTTP 5xx and 429 responses surface as transient errors so
// callers can retry.
func (c *Client) Query(ctx context.Context, lng, lat float64) (*geojson.FeatureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "mapbox: rate limit wait")
	}

	endpoint := fmt.Sprintf("%s/v4/%s/tilequery/%g,%g.json", c.baseURL, c.tileset, lng, lat)
	q := url.Values{}
	q.Set("radius", fmt.Sprintf("%d", c.radiusM))
	q.Set("limit", fmt.Sprintf("%d", c.limit))
	q.Set("layers", "building")
	q.Set("geometry", "polygon")
	q.Set("access_token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "mapbox: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "mapbox: tilequery request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.Errorf("mapbox: tilequery status %d: %s", resp.StatusCode, body)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "mapbox: read response")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "mapbox: decode feature collection")
	}
	return &fc, nil
}
