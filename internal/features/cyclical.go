package features

import (
	"math"
	"time"
)

// Periods of the cyclical time encodings.
const (
	HoursPerDay = 24.0
	DaysPerYear = 365.25
)

// Cyclical encodes v on a cycle of the given period as (sin, cos). v is
// reduced modulo the period first, so v and v+period encode identically.
func Cyclical(v, period float64) (sin, cos float64) {
	phase := math.Mod(v, period)
	if phase < 0 {
		phase += period
	}
	angle := 2 * math.Pi * phase / period
	return math.Sin(angle), math.Cos(angle)
}

// HourOfDay returns the fractional UTC hour of ts in [0, 24).
func HourOfDay(ts time.Time) float64 {
	ts = ts.UTC()
	return float64(ts.Hour()) + float64(ts.Minute())/60 + float64(ts.Second())/3600
}

// DayOfYear returns the fractional zero-based UTC day of year of ts.
func DayOfYear(ts time.Time) float64 {
	ts = ts.UTC()
	return float64(ts.YearDay()-1) + HourOfDay(ts)/HoursPerDay
}
