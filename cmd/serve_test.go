package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunspot-io/sunspot/internal/config"
	"github.com/sunspot-io/sunspot/internal/footprint"
	"github.com/sunspot-io/sunspot/internal/geodesic"
)

// stubProvider returns a fixed footprint set and counts calls.
type stubProvider struct {
	fps   []footprint.Footprint
	calls int
}

func (s *stubProvider) Footprints(_ context.Context, _ geodesic.Point) ([]footprint.Footprint, error) {
	s.calls++
	return s.fps, nil
}

func newTestServer(t *testing.T) (*server, http.Handler) {
	t.Helper()
	srv := newServer(&config.Config{}, &stubProvider{})
	return srv, srv.router([]string{"*"})
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSunPosition(t *testing.T) {
	_, h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/sun/position?lng=4.8952&lat=52.3702&at=2026-06-21T11:40:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st struct {
		BearingDeg  float64 `json:"bearing_deg"`
		AltitudeDeg float64 `json:"altitude_deg"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Greater(t, st.AltitudeDeg, 55.0)
	assert.InDelta(t, 180, st.BearingDeg, 10)
}

func TestSunPositionMissingParams(t *testing.T) {
	_, h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sun/position?lng=4.8952", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSunWindow(t *testing.T) {
	_, h := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/sun/window?lng=4.8952&lat=52.3702&date=2026-06-21", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var win struct {
		SunriseHours float64 `json:"sunrise_hours"`
		SunsetHours  float64 `json:"sunset_hours"`
		Polar        bool    `json:"polar"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &win))
	assert.False(t, win.Polar)
	assert.Less(t, win.SunriseHours, win.SunsetHours)
}

func TestSunWindowPolarFallback(t *testing.T) {
	_, h := newTestServer(t)

	// Longyearbyen at midsummer, no sunrise or sunset.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/sun/window?lng=15.6&lat=78.22&date=2026-06-21", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var win struct {
		SunriseHours float64 `json:"sunrise_hours"`
		SunsetHours  float64 `json:"sunset_hours"`
		Polar        bool    `json:"polar"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &win))
	assert.True(t, win.Polar)
	assert.Equal(t, 0.0, win.SunriseHours)
	assert.Equal(t, 24.0, win.SunsetHours)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	// Daytime start under open sky.
	rec := postJSON(t, h, "/v1/sessions", map[string]any{
		"lng": 4.8952, "lat": 52.3702, "at": time.Date(2026, 6, 21, 11, 40, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
		Result    struct {
			InShadow bool `json:"in_shadow"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, "active", created.State)
	assert.False(t, created.Result.InShadow)

	// Scrub to the middle of the night, full shadow.
	rec = postJSON(t, h, fmt.Sprintf("/v1/sessions/%s/time", created.SessionID), map[string]any{
		"at": time.Date(2026, 6, 21, 23, 30, 0, 0, time.UTC),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated struct {
		Result struct {
			InShadow bool `json:"in_shadow"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.Result.InShadow)

	// End the session; further updates are rejected.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+created.SessionID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postJSON(t, h, fmt.Sprintf("/v1/sessions/%s/time", created.SessionID), map[string]any{
		"at": time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionExpiry(t *testing.T) {
	srv, h := newTestServer(t)

	clock := time.Date(2026, 6, 21, 11, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return clock }

	rec := postJSON(t, h, "/v1/sessions", map[string]any{
		"lng": 4.8952, "lat": 52.3702, "at": clock,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Idle past the TTL; the next create sweeps the stale session out.
	clock = clock.Add(sessionTTL + time.Minute)
	rec = postJSON(t, h, "/v1/sessions", map[string]any{
		"lng": 4.8952, "lat": 52.3702, "at": clock,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h, fmt.Sprintf("/v1/sessions/%s/time", created.SessionID), map[string]any{
		"at": clock,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionTouchExtendsExpiry(t *testing.T) {
	srv, h := newTestServer(t)

	clock := time.Date(2026, 6, 21, 11, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return clock }

	rec := postJSON(t, h, "/v1/sessions", map[string]any{
		"lng": 4.8952, "lat": 52.3702, "at": clock,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// A time update inside the TTL refreshes the idle clock, so a sweep
	// one-and-a-half TTLs after creation keeps the session alive.
	clock = clock.Add(sessionTTL / 2)
	rec = postJSON(t, h, fmt.Sprintf("/v1/sessions/%s/time", created.SessionID), map[string]any{
		"at": clock,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	clock = clock.Add(sessionTTL - time.Minute)
	rec = postJSON(t, h, "/v1/sessions", map[string]any{
		"lng": 4.8952, "lat": 52.3702, "at": clock,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h, fmt.Sprintf("/v1/sessions/%s/time", created.SessionID), map[string]any{
		"at": clock,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionInvalidPoint(t *testing.T) {
	_, h := newTestServer(t)

	rec := postJSON(t, h, "/v1/sessions", map[string]any{"lng": 200.0, "lat": 95.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionTimeUnknownID(t *testing.T) {
	_, h := newTestServer(t)

	rec := postJSON(t, h, "/v1/sessions/nope/time", map[string]any{"at": time.Now()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
