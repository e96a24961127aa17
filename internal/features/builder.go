package features

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// ErrNotFrozen is returned when features are built before the baseline is frozen.
var ErrNotFrozen = errors.New("feature builder: baseline not frozen")

// Config selects the engineered features.
type Config struct {
	// Lags are the look-back offsets for lag features, e.g. 1h and 24h.
	Lags []time.Duration
	// LagTolerance is how far before (t - lag) an observation may lie and
	// still stand in for the lagged value.
	LagTolerance time.Duration
	// RollingWindow is the span of the [t-window, t) summary statistics.
	RollingWindow time.Duration
	// Baseline enables the per-target seasonal baseline feature.
	Baseline bool
	// BaselineWindowDays is the day-of-year half-width of the baseline.
	BaselineWindowDays int
}

// DefaultConfig returns the production feature layout.
func DefaultConfig() Config {
	return Config{
		Lags:               []time.Duration{time.Hour, 2 * time.Hour, 3 * time.Hour, 24 * time.Hour},
		LagTolerance:       30 * time.Minute,
		RollingWindow:      24 * time.Hour,
		Baseline:           true,
		BaselineWindowDays: 15,
	}
}

// Validate checks that the configuration describes a usable layout.
func (c Config) Validate() error {
	if len(c.Lags) == 0 {
		return errors.New("at least one lag is required")
	}
	seen := make(map[time.Duration]bool, len(c.Lags))
	for _, lag := range c.Lags {
		if lag <= 0 {
			return fmt.Errorf("lag %s must be positive", lag)
		}
		if seen[lag] {
			return fmt.Errorf("duplicate lag %s", lag)
		}
		seen[lag] = true
	}
	if c.LagTolerance < 0 || c.LagTolerance >= slices.Min(c.Lags) {
		return fmt.Errorf("lag tolerance %s must be in [0, %s)", c.LagTolerance, slices.Min(c.Lags))
	}
	if c.RollingWindow <= 0 {
		return fmt.Errorf("rolling window %s must be positive", c.RollingWindow)
	}
	if c.Baseline && (c.BaselineWindowDays < 0 || c.BaselineWindowDays > MaxBaselineWindowDays) {
		return fmt.Errorf("baseline window %d days must be in [0, %d]", c.BaselineWindowDays, MaxBaselineWindowDays)
	}
	return nil
}

// MaxLookback is the longest span of history any feature reads.
func (c Config) MaxLookback() time.Duration {
	return max(slices.Max(c.Lags)+c.LagTolerance, c.RollingWindow)
}

// Matrix is a feature matrix aligned row-for-row with its targets.
type Matrix struct {
	Names   []string
	Rows    []domain.FeatureVector
	Targets [domain.NumTargets][]float64
}

// Len returns the number of rows.
func (m Matrix) Len() int { return len(m.Rows) }

// X returns the feature values as a row-major slice sharing storage with m.
func (m Matrix) X() [][]float64 {
	x := make([][]float64, len(m.Rows))
	for i, r := range m.Rows {
		x[i] = r.Values
	}
	return x
}

// Split divides m into the rows before ts and the rows at or after it.
// Rows are in time order, so both halves keep their order.
func (m Matrix) Split(ts time.Time) (before, from Matrix) {
	i := sort.Search(len(m.Rows), func(i int) bool { return !m.Rows[i].Timestamp.Before(ts) })
	before = Matrix{Names: m.Names, Rows: m.Rows[:i:i]}
	from = Matrix{Names: m.Names, Rows: m.Rows[i:]}
	for t := range m.Targets {
		before.Targets[t] = m.Targets[t][:i:i]
		from.Targets[t] = m.Targets[t][i:]
	}
	return before, from
}

// Builder maps series into feature vectors. The seasonal baseline is
// computed once by Freeze (or installed by Restore) and never updated, so
// horizon features cannot see statistics of the period being forecast.
type Builder struct {
	cfg      Config
	names    []string
	baseline *Baseline
	frozen   bool
}

// NewBuilder creates a builder for cfg.
func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	cfg.Lags = slices.Clone(cfg.Lags)
	b := &Builder{cfg: cfg}
	b.names = b.layout()
	return b, nil
}

// Config returns the builder's configuration.
func (b *Builder) Config() Config { return b.cfg }

// Names returns the feature column names in vector order.
func (b *Builder) Names() []string { return slices.Clone(b.names) }

// Dim returns the feature vector width.
func (b *Builder) Dim() int { return len(b.names) }

// Baseline returns the frozen baseline, or nil if disabled or not frozen.
func (b *Builder) Baseline() *Baseline { return b.baseline }

// Frozen reports whether features can be built.
func (b *Builder) Frozen() bool { return b.frozen }

// Freeze computes the training-only statistics from history.
func (b *Builder) Freeze(history Series) error {
	if b.frozen {
		return errors.New("feature builder: already frozen")
	}
	if b.cfg.Baseline {
		b.baseline = NewBaseline(history, b.cfg.BaselineWindowDays)
	}
	b.frozen = true
	return nil
}

// Restore installs a previously frozen baseline, e.g. one loaded from a model store.
func (b *Builder) Restore(baseline *Baseline) error {
	if b.frozen {
		return errors.New("feature builder: already frozen")
	}
	if b.cfg.Baseline && baseline == nil {
		return errors.New("feature builder: baseline enabled but none stored")
	}
	if b.cfg.Baseline {
		b.baseline = baseline
	}
	b.frozen = true
	return nil
}

func (b *Builder) layout() []string {
	names := []string{"hour_sin", "hour_cos", "doy_sin", "doy_cos", domain.ColLat, domain.ColLon, domain.ColElevation}
	for _, t := range domain.Targets {
		for _, lag := range b.cfg.Lags {
			names = append(names, fmt.Sprintf("%s_lag_%s", t, formatOffset(lag)))
		}
		names = append(names,
			t.String()+"_roll_mean",
			t.String()+"_roll_std",
			t.String()+"_roll_min",
			t.String()+"_roll_max",
		)
		if b.cfg.Baseline {
			names = append(names, t.String()+"_baseline")
		}
	}
	return names
}

// Training builds one row per point of s that has full lag and window
// history, paired with that point's observed targets. Points without it are
// left out; nothing is zero-filled.
func (b *Builder) Training(s Series) (Matrix, error) {
	if !b.frozen {
		return Matrix{}, ErrNotFrozen
	}
	m := Matrix{Names: b.Names()}
	for i := range s.points {
		p := s.points[i]
		values, ok, err := b.vector(s, p.Timestamp, false)
		if err != nil {
			return Matrix{}, err
		}
		if !ok {
			continue
		}
		m.Rows = append(m.Rows, domain.FeatureVector{Timestamp: p.Timestamp, Values: values})
		for t := range p.Values {
			m.Targets[t] = append(m.Targets[t], p.Values[t])
		}
	}
	return m, nil
}

// Horizon builds the vector for a not-yet-observed timestamp ts from the
// points of s before it, which may include earlier forecasts. A lag with no
// point inside the tolerance takes the last known value before the lag time.
func (b *Builder) Horizon(s Series, ts time.Time) (domain.FeatureVector, error) {
	if !b.frozen {
		return domain.FeatureVector{}, ErrNotFrozen
	}
	values, ok, err := b.vector(s, ts, true)
	if err != nil {
		return domain.FeatureVector{}, err
	}
	if !ok {
		return domain.FeatureVector{}, &domain.InsufficientDataError{
			Stage: "horizon features at " + ts.Format(time.RFC3339),
			Have:  s.Len(),
			Need:  int(b.cfg.MaxLookback()/time.Hour) + 1,
		}
	}
	return domain.FeatureVector{Timestamp: ts, Values: values}, nil
}

// vector builds the features for ts from the points of s strictly before ts.
// ok is false when required history is missing.
func (b *Builder) vector(s Series, ts time.Time, horizon bool) ([]float64, bool, error) {
	out := make([]float64, 0, len(b.names))

	hs, hc := Cyclical(HourOfDay(ts), HoursPerDay)
	ds, dc := Cyclical(DayOfYear(ts), DaysPerYear)
	out = append(out, hs, hc, ds, dc, s.Site.Lat, s.Site.Lon, s.Site.ElevationM)

	start := s.firstAtOrAfter(ts.Add(-b.cfg.RollingWindow))
	end := s.firstAtOrAfter(ts)
	if end <= start {
		return nil, false, nil
	}
	window := s.points[start:end]

	for _, t := range domain.Targets {
		for _, lag := range b.cfg.Lags {
			v, ok := b.lagValue(s, t, ts.Add(-lag), horizon)
			if !ok {
				return nil, false, nil
			}
			out = append(out, v)
		}
		mean, std, lo, hi := summarize(window, t)
		out = append(out, mean, std, lo, hi)
		if b.cfg.Baseline {
			if b.baseline == nil {
				return nil, false, ErrNotFrozen
			}
			out = append(out, b.baseline.Value(t, ts))
		}
	}
	return out, true, nil
}

func (b *Builder) lagValue(s Series, t domain.Target, at time.Time, horizon bool) (float64, bool) {
	i := s.lastAtOrBefore(at)
	if i < 0 {
		return 0, false
	}
	p := s.points[i]
	if p.Timestamp.Before(at.Add(-b.cfg.LagTolerance)) && !horizon {
		return 0, false
	}
	return p.Values[t], true
}

// summarize returns mean, population standard deviation, min and max of
// target t over a non-empty window.
func summarize(window []Point, t domain.Target) (mean, std, lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, p := range window {
		v := p.Values[t]
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	n := float64(len(window))
	mean = sum / n
	var sq float64
	for _, p := range window {
		d := p.Values[t] - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n), lo, hi
}

func formatOffset(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
