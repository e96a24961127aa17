package model

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
)

// MinRowsMargin is how many training rows beyond the feature dimension a
// bank needs before it will fit.
const MinRowsMargin = 24

// Regressor predicts one quantile of one target from a feature vector.
type Regressor interface {
	Predict(x []float64) float64
}

// Trainer fits a Regressor of the given quantile of y.
type Trainer interface {
	Train(ctx context.Context, x [][]float64, y []float64, quantile float64) (Regressor, error)
}

// Band names one of the three quantile models of a target.
type Band int

const (
	Low Band = iota
	Median
	High
)

// Bands lists the bands in quantile order.
var Bands = [3]Band{Low, Median, High}

func (b Band) String() string {
	switch b {
	case Low:
		return "low"
	case Median:
		return "median"
	case High:
		return "high"
	default:
		return fmt.Sprintf("band(%d)", int(b))
	}
}

// ParseBand is the inverse of Band.String.
func ParseBand(s string) (Band, error) {
	for _, b := range Bands {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown band %q", s)
}

// Key identifies one model of the bank.
type Key struct {
	Target domain.Target
	Band   Band
}

func (k Key) String() string { return k.Target.String() + "_" + k.Band.String() }

// Keys returns every key in target-major order.
func Keys() []Key {
	keys := make([]Key, 0, domain.NumTargets*len(Bands))
	for _, t := range domain.Targets {
		for _, b := range Bands {
			keys = append(keys, Key{Target: t, Band: b})
		}
	}
	return keys
}

// Levels returns the low, median and high quantiles for a central interval
// of coverage alpha, rounded to 12 decimals so that e.g. alpha 0.9 gives
// exactly 0.05 and 0.95.
func Levels(alpha float64) ([3]float64, error) {
	if !(alpha > 0 && alpha < 1) {
		return [3]float64{}, fmt.Errorf("alpha %v must be in (0, 1)", alpha)
	}
	round := func(v float64) float64 { return math.Round(v*1e12) / 1e12 }
	tail := (1 - alpha) / 2
	return [3]float64{round(tail), 0.5, round(1 - tail)}, nil
}

// MinRows returns the number of training rows needed for dim features.
func MinRows(dim int) int { return dim + MinRowsMargin }

// FitOptions tune Fit.
type FitOptions struct {
	// Workers bounds how many models train concurrently. Values below 1 mean 1.
	Workers int
	// OnTrained, if set, is called after each model finishes. It may be
	// called from several goroutines.
	OnTrained func(key Key, elapsed time.Duration)
}

// Bank holds the nine quantile models: low, median and high per target.
type Bank struct {
	alpha  float64
	levels [3]float64
	dim    int
	models map[Key]Regressor
}

// NewBank assembles a bank from already trained models, e.g. ones loaded
// from a model store. Every key must be present.
func NewBank(alpha float64, dim int, models map[Key]Regressor) (*Bank, error) {
	levels, err := Levels(alpha)
	if err != nil {
		return nil, err
	}
	if dim < 1 {
		return nil, fmt.Errorf("feature dimension %d must be positive", dim)
	}
	b := &Bank{alpha: alpha, levels: levels, dim: dim, models: make(map[Key]Regressor, len(models))}
	for _, k := range Keys() {
		r, ok := models[k]
		if !ok || r == nil {
			return nil, fmt.Errorf("model bank: missing model %s", k)
		}
		b.models[k] = r
	}
	return b, nil
}

// Fit trains the nine models on m. It fails with an InsufficientDataError
// when m has fewer than MinRows(dimension) rows.
func Fit(ctx context.Context, trainer Trainer, m features.Matrix, alpha float64, opts FitOptions) (*Bank, error) {
	levels, err := Levels(alpha)
	if err != nil {
		return nil, err
	}
	dim := len(m.Names)
	if need := MinRows(dim); m.Len() < need {
		return nil, &domain.InsufficientDataError{Stage: "model training", Have: m.Len(), Need: need}
	}
	x := m.X()

	var mu sync.Mutex
	models := make(map[Key]Regressor, domain.NumTargets*len(Bands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, k := range Keys() {
		g.Go(func() error {
			start := time.Now()
			r, err := trainer.Train(gctx, x, m.Targets[k.Target], levels[k.Band])
			if err != nil {
				return fmt.Errorf("train %s (q=%v): %w", k, levels[k.Band], err)
			}
			if opts.OnTrained != nil {
				opts.OnTrained(k, time.Since(start))
			}
			mu.Lock()
			models[k] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Bank{alpha: alpha, levels: levels, dim: dim, models: models}, nil
}

// Alpha returns the nominal interval coverage.
func (b *Bank) Alpha() float64 { return b.alpha }

// Levels returns the low, median and high quantiles.
func (b *Bank) Levels() [3]float64 { return b.levels }

// Dim returns the feature dimension the models expect.
func (b *Bank) Dim() int { return b.dim }

// Model returns the model for k.
func (b *Bank) Model(k Key) Regressor { return b.models[k] }

// Predict returns the interval of target at x. The three raw quantile
// predictions are sorted, so Low <= Pred <= High always holds.
func (b *Bank) Predict(target domain.Target, x []float64) (domain.Interval, error) {
	if len(x) != b.dim {
		return domain.Interval{}, fmt.Errorf("predict %s: have %d features, want %d", target, len(x), b.dim)
	}
	raw := []float64{
		b.models[Key{Target: target, Band: Low}].Predict(x),
		b.models[Key{Target: target, Band: Median}].Predict(x),
		b.models[Key{Target: target, Band: High}].Predict(x),
	}
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Interval{}, fmt.Errorf("predict %s: non-finite model output", target)
		}
	}
	slices.Sort(raw)
	return domain.Interval{Pred: raw[1], Low: raw[0], High: raw[2]}, nil
}

// PredictAll returns the intervals of every target at x.
func (b *Bank) PredictAll(x []float64) ([domain.NumTargets]domain.Interval, error) {
	var out [domain.NumTargets]domain.Interval
	for _, t := range domain.Targets {
		iv, err := b.Predict(t, x)
		if err != nil {
			return out, err
		}
		out[t] = iv
	}
	return out, nil
}
