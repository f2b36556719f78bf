package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunspot-io/sunspot/internal/config"
	"github.com/sunspot-io/sunspot/internal/footprint"
	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/session"
	"github.com/sunspot-io/sunspot/internal/shadow"
	"github.com/sunspot-io/sunspot/internal/solar"
	"github.com/sunspot-io/sunspot/pkg/mapbox"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shadow-analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		provider := newProvider(cfg)
		srv := newServer(cfg, provider)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.router(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serving shadow analysis API", zap.Int("port", port))
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// newProvider builds the footprint provider from config.
func newProvider(cfg *config.Config) footprint.Provider {
	client := mapbox.NewClient(cfg.Mapbox.Token,
		mapbox.WithBaseURL(cfg.Mapbox.BaseURL),
		mapbox.WithTileset(cfg.Mapbox.Tileset),
		mapbox.WithRadius(cfg.Mapbox.RadiusM),
		mapbox.WithLimit(cfg.Mapbox.Limit),
		mapbox.WithRateLimit(cfg.Mapbox.RateLimit),
	)
	return footprint.NewSourceProvider(client)
}

// sessionTTL is how long an untouched session survives before the next
// sweep exits it. Clients that navigate away without a DELETE are common.
const sessionTTL = 30 * time.Minute

// liveSession pairs a controller with its last-activity time for expiry.
type liveSession struct {
	ctrl    *session.Controller
	touched time.Time
}

// server holds the API dependencies and the live analysis sessions.
type server struct {
	provider footprint.Provider
	resolver *shadow.Resolver
	sessCfg  session.Config
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
}

func newServer(cfg *config.Config, provider footprint.Provider) *server {
	return &server{
		provider: provider,
		resolver: shadow.NewResolver(shadow.Config{
			RayLengthKm:   cfg.Analysis.RayLengthKm,
			ClearSkyRayKm: cfg.Analysis.ClearSkyRayKm,
			SegmentCount:  cfg.Analysis.SegmentCount,
		}),
		sessCfg: session.Config{
			CacheRadiusM: cfg.Analysis.CacheRadiusM,
			FetchTimeout: cfg.Analysis.FetchTimeout(),
		},
		now:      time.Now,
		sessions: map[string]*liveSession{},
	}
}

// sweepLocked exits and drops sessions idle past the TTL. Callers hold mu.
func (s *server) sweepLocked() {
	cutoff := s.now().Add(-sessionTTL)
	for id, ls := range s.sessions {
		if ls.touched.Before(cutoff) {
			ls.ctrl.Exit()
			delete(s.sessions, id)
			zap.L().Info("expired idle session", zap.String("id", id))
		}
	}
}

func (s *server) router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/v1/sun/position", s.handleSunPosition)
	r.Get("/v1/sun/window", s.handleSunWindow)
	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/time", s.handleSessionTime)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSunPosition(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPoint(w, r)
	if !ok {
		return
	}
	at := queryTime(r, "at", time.Now())

	st, err := solar.Position(at, p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// sunWindowResponse is the day window plus the polar fallback marker.
type sunWindowResponse struct {
	*solar.Window
	Polar bool `json:"polar"`
}

func (s *server) handleSunWindow(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPoint(w, r)
	if !ok {
		return
	}
	date := queryTime(r, "date", time.Now())

	win, err := solar.DayWindow(date, p)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sunWindowResponse{Window: win})
	case eris.Is(err, solar.ErrPolarDayNight):
		// No sunrise or sunset here; hand the UI a full-day control range.
		writeJSON(w, http.StatusOK, sunWindowResponse{
			Window: &solar.Window{SunriseHours: 0, SunsetHours: 24},
			Polar:  true,
		})
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

type sessionRequest struct {
	Lng float64   `json:"lng"`
	Lat float64   `json:"lat"`
	At  time.Time `json:"at"`
}

type sessionResponse struct {
	SessionID string         `json:"session_id"`
	State     string         `json:"state"`
	Sun       solar.State    `json:"sun"`
	Result    *shadow.Result `json:"result"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode request"))
		return
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}

	ctrl := session.New(s.provider, s.resolver, s.sessCfg)
	res, err := ctrl.Start(r.Context(), geodesic.Point{Lng: req.Lng, Lat: req.Lat}, at)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sweepLocked()
	s.sessions[id] = &liveSession{ctrl: ctrl, touched: s.now()}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: id,
		State:     ctrl.State().String(),
		Sun:       ctrl.Sun(),
		Result:    res,
	})
}

func (s *server) handleSessionTime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	ls, ok := s.sessions[id]
	if ok {
		ls.touched = s.now()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, eris.New("unknown session"))
		return
	}
	ctrl := ls.ctrl

	var req struct {
		At time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode request"))
		return
	}

	res, err := ctrl.OnTimeChanged(req.At)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: id,
		State:     ctrl.State().String(),
		Sun:       ctrl.Sun(),
		Result:    res,
	})
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	ls, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, eris.New("unknown session"))
		return
	}

	ls.ctrl.Exit()
	w.WriteHeader(http.StatusNoContent)
}

// queryPoint parses lng/lat query parameters, writing a 400 on failure.
func queryPoint(w http.ResponseWriter, r *http.Request) (geodesic.Point, bool) {
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if errLng != nil || errLat != nil {
		writeError(w, http.StatusBadRequest, eris.New("lng and lat query parameters are required"))
		return geodesic.Point{}, false
	}
	p := geodesic.Point{Lng: lng, Lat: lat}
	if !p.Valid() {
		writeError(w, http.StatusBadRequest, eris.New("coordinates out of range"))
		return geodesic.Point{}, false
	}
	return p, true
}

// queryTime parses an RFC 3339 query parameter, falling back to def.
func queryTime(r *http.Request, key string, def time.Time) time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
