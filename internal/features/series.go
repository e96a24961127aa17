package features

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// Point is one value per target at one timestamp.
type Point struct {
	Timestamp time.Time
	Values    [domain.NumTargets]float64
}

// Series is a strictly time-ordered sequence of points at one site. It is a
// value type: Append returns a new Series and never mutates the receiver's
// view, so a caller holding an earlier Series keeps a stable snapshot.
type Series struct {
	Site   domain.Site
	points []Point
}

// NewSeries builds a series from validated observations, which are already
// sorted and share a site.
func NewSeries(obs []domain.Observation) Series {
	s := Series{points: make([]Point, len(obs))}
	if len(obs) > 0 {
		s.Site = obs[0].Site
	}
	for i, o := range obs {
		s.points[i] = Point{Timestamp: o.Timestamp, Values: o.Values()}
	}
	return s
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.points) }

// At returns the i-th point.
func (s Series) At(i int) Point { return s.points[i] }

// Last returns the most recent point. It panics on an empty series.
func (s Series) Last() Point { return s.points[len(s.points)-1] }

// Append returns a series extended by p. p must be later than every existing point.
func (s Series) Append(p Point) (Series, error) {
	if n := len(s.points); n > 0 && !p.Timestamp.After(s.points[n-1].Timestamp) {
		return s, fmt.Errorf("append %s: not after last point %s",
			p.Timestamp.Format(time.RFC3339), s.points[n-1].Timestamp.Format(time.RFC3339))
	}
	return Series{Site: s.Site, points: append(slices.Clip(s.points), p)}, nil
}

// Until returns the prefix of points with timestamps not after ts.
func (s Series) Until(ts time.Time) Series {
	return Series{Site: s.Site, points: slices.Clip(s.points[:s.firstAfter(ts)])}
}

// lastAtOrBefore returns the index of the last point at or before ts, or -1.
func (s Series) lastAtOrBefore(ts time.Time) int {
	return s.firstAfter(ts) - 1
}

// firstAfter returns the index of the first point strictly after ts.
func (s Series) firstAfter(ts time.Time) int {
	return sort.Search(len(s.points), func(i int) bool { return s.points[i].Timestamp.After(ts) })
}

// firstAtOrAfter returns the index of the first point at or after ts.
func (s Series) firstAtOrAfter(ts time.Time) int {
	return sort.Search(len(s.points), func(i int) bool { return !s.points[i].Timestamp.Before(ts) })
}
