package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sunspot-io/sunspot/internal/footprint"
	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/shadow"
	"github.com/sunspot-io/sunspot/internal/solar"
)

var (
	resolveLng        float64
	resolveLat        float64
	resolveAt         string
	resolveFootprints string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve sun or shadow for a single point and time",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := geodesic.Point{Lng: resolveLng, Lat: resolveLat}
		if !p.Valid() {
			return eris.New("resolve: coordinates out of range")
		}

		at := time.Now()
		if resolveAt != "" {
			var err error
			at, err = time.Parse(time.RFC3339, resolveAt)
			if err != nil {
				return eris.Wrap(err, "resolve: parse --at")
			}
		}

		sun, err := solar.Position(at, p)
		if err != nil {
			return eris.Wrap(err, "resolve: sun position")
		}

		fps, err := loadFootprints(cmd.Context(), p)
		if err != nil {
			return err
		}

		resolver := shadow.NewResolver(shadow.Config{
			RayLengthKm:   cfg.Analysis.RayLengthKm,
			ClearSkyRayKm: cfg.Analysis.ClearSkyRayKm,
			SegmentCount:  cfg.Analysis.SegmentCount,
		})
		result := resolver.Resolve(p, sun, fps)

		out := struct {
			Sun    solar.State   `json:"sun"`
			Result shadow.Result `json:"result"`
		}{Sun: sun, Result: result}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// loadFootprints reads footprints from the --footprints file when given,
// otherwise queries the configured tile source around p.
func loadFootprints(ctx context.Context, p geodesic.Point) ([]footprint.Footprint, error) {
	if resolveFootprints != "" {
		data, err := os.ReadFile(resolveFootprints)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: read footprints file")
		}
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "resolve: parse footprints file")
		}
		return footprint.FromFeatureCollection(&fc), nil
	}

	provider := newProvider(cfg)
	fps, err := provider.Footprints(ctx, p)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: fetch footprints")
	}
	return fps, nil
}

func init() {
	resolveCmd.Flags().Float64Var(&resolveLng, "lng", 0, "longitude of the point")
	resolveCmd.Flags().Float64Var(&resolveLat, "lat", 0, "latitude of the point")
	resolveCmd.Flags().StringVar(&resolveAt, "at", "", "time as RFC 3339 (default now)")
	resolveCmd.Flags().StringVar(&resolveFootprints, "footprints", "", "GeoJSON file of building footprints (skips the tile query)")
	_ = resolveCmd.MarkFlagRequired("lng")
	_ = resolveCmd.MarkFlagRequired("lat")
	rootCmd.AddCommand(resolveCmd)
}
