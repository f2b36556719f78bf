package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sunspot-io/sunspot/internal/geodesic"
	"github.com/sunspot-io/sunspot/internal/solar"
)

var (
	sunLng float64
	sunLat float64
	sunAt  string
)

var sunCmd = &cobra.Command{
	Use:   "sun",
	Short: "Print the sun position and daylight window for a point",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := geodesic.Point{Lng: sunLng, Lat: sunLat}
		if !p.Valid() {
			return eris.New("sun: coordinates out of range")
		}

		at := time.Now()
		if sunAt != "" {
			var err error
			at, err = time.Parse(time.RFC3339, sunAt)
			if err != nil {
				return eris.Wrap(err, "sun: parse --at")
			}
		}

		pos, err := solar.Position(at, p)
		if err != nil {
			return eris.Wrap(err, "sun: position")
		}

		out := struct {
			Sun    solar.State   `json:"sun"`
			Window *solar.Window `json:"window,omitempty"`
			Polar  bool          `json:"polar"`
		}{Sun: pos}

		win, err := solar.DayWindow(at, p)
		switch {
		case err == nil:
			out.Window = win
		case eris.Is(err, solar.ErrPolarDayNight):
			out.Polar = true
		default:
			return eris.Wrap(err, "sun: day window")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	sunCmd.Flags().Float64Var(&sunLng, "lng", 0, "longitude of the point")
	sunCmd.Flags().Float64Var(&sunLat, "lat", 0, "latitude of the point")
	sunCmd.Flags().StringVar(&sunAt, "at", "", "time as RFC 3339 (default now)")
	_ = sunCmd.MarkFlagRequired("lng")
	_ = sunCmd.MarkFlagRequired("lat")
	rootCmd.AddCommand(sunCmd)
}
