// Package solar computes sun position and sunrise/sunset windows for a
// point and time, in the conventions the shadow engine works in: bearings
// clockwise from true north, altitudes in degrees above the horizon.
package solar

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sixdouglas/suncalc"

	"github.com/sunspot-io/sunspot/internal/geodesic"
)

const rad2deg = 180 / math.Pi

// ErrInvalidPoint is returned for non-finite or out-of-range coordinates.
var ErrInvalidPoint = eris.New("solar: invalid point")

// ErrPolarDayNight is returned by DayWindow when the sun never rises or
// never sets on the given date. Callers substitute a fixed fallback window.
var ErrPolarDayNight = eris.New("solar: no sunrise or sunset at this latitude and date")

// State is the sun's horizontal position for a point and instant. It is
// derived data: recomputed whenever the point or time changes, never
// mutated.
type State struct {
	// BearingDeg is the compass direction to the sun, 0-360 clockwise from
	// true north.
	BearingDeg float64 `json:"bearing_deg"`
	// AltitudeDeg is the sun's angle above the horizon, -90 to 90.
	AltitudeDeg float64 `json:"altitude_deg"`

	Point geodesic.Point `json:"point"`
	At    time.Time      `json:"at"`
}

// Night reports whether the sun is at or below the horizon. Callers treat
// this as an automatic full-shadow condition.
func (s State) Night() bool {
	return s.AltitudeDeg <= 0
}

// Position computes the sun's bearing and altitude at the given time and
// point. suncalc measures azimuth in radians from south (west positive);
// the result is converted to a bearing from true north via
// (180 + azimuth) mod 360.
func Position(at time.Time, p geodesic.Point) (State, error) {
	if !p.Valid() {
		return State{}, ErrInvalidPoint
	}

	pos := suncalc.GetPosition(at, p.Lat, p.Lng)
	bearing := math.Mod(pos.Azimuth*rad2deg+180+360, 360)
	return State{
		BearingDeg:  bearing,
		AltitudeDeg: pos.Altitude * rad2deg,
		Point:       p,
		At:          at,
	}, nil
}

// Window bounds the daylight portion of a calendar date at a point. The
// decimal hours are local clock hours (hour + minute/60) in the zone of the
// date passed to DayWindow, used as the range of a time-of-day control.
type Window struct {
	Sunrise time.Time `json:"sunrise"`
	Sunset  time.Time `json:"sunset"`

	SunriseHours float64 `json:"sunrise_hours"`
	SunsetHours  float64 `json:"sunset_hours"`
}

// DayWindow computes the sunrise/sunset window for the calendar date of
// `date` at point p. At latitudes and dates with polar day or polar night
// it returns ErrPolarDayNight rather than a window.
func DayWindow(date time.Time, p geodesic.Point) (*Window, error) {
	if !p.Valid() {
		return nil, ErrInvalidPoint
	}

	times := suncalc.GetTimes(date, p.Lat, p.Lng)
	sunrise := times[suncalc.Sunrise].Time.In(date.Location())
	sunset := times[suncalc.Sunset].Time.In(date.Location())

	if !plausible(sunrise, date) || !plausible(sunset, date) || !sunrise.Before(sunset) {
		return nil, ErrPolarDayNight
	}

	return &Window{
		Sunrise:      sunrise,
		Sunset:       sunset,
		SunriseHours: decimalHours(sunrise),
		SunsetHours:  decimalHours(sunset),
	}, nil
}

// plausible guards against the garbage timestamps suncalc produces when the
// sunrise hour angle has no solution (polar day/night).
func plausible(t time.Time, date time.Time) bool {
	if t.IsZero() {
		return false
	}
	d := t.Sub(date)
	return d > -48*time.Hour && d < 48*time.Hour
}

// decimalHours converts a clock time to hour + minute/60.
func decimalHours(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}
