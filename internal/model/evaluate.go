package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
)

// Scores are the holdout metrics of one target.
type Scores struct {
	MAE           float64 `json:"mae"`
	RMSE          float64 `json:"rmse"`
	R2            float64 `json:"r2"`
	PinballLow    float64 `json:"pinball_low"`
	PinballMedian float64 `json:"pinball_median"`
	PinballHigh   float64 `json:"pinball_high"`
	Coverage      float64 `json:"coverage"`
}

// Evaluation is the result of scoring a bank on held-out rows.
type Evaluation struct {
	Rows    int               `json:"rows"`
	Alpha   float64           `json:"alpha"`
	Targets map[string]Scores `json:"targets"`
}

// Evaluate scores b on m: point metrics of the median, pinball loss of each
// band and the share of rows inside [low, high]. Predictions are the sorted
// intervals returned by Predict.
func Evaluate(b *Bank, m features.Matrix) (Evaluation, error) {
	if m.Len() == 0 {
		return Evaluation{}, errors.New("evaluate: no rows")
	}
	n := m.Len()
	ev := Evaluation{Rows: n, Alpha: b.Alpha(), Targets: make(map[string]Scores, domain.NumTargets)}
	levels := b.Levels()

	for _, t := range domain.Targets {
		pred := make([]float64, n)
		low := make([]float64, n)
		high := make([]float64, n)
		for i, row := range m.Rows {
			iv, err := b.Predict(t, row.Values)
			if err != nil {
				return Evaluation{}, fmt.Errorf("evaluate row %d: %w", i, err)
			}
			pred[i], low[i], high[i] = iv.Pred, iv.Low, iv.High
		}
		y := m.Targets[t]
		ev.Targets[t.String()] = Scores{
			MAE:           MAE(y, pred),
			RMSE:          RMSE(y, pred),
			R2:            R2(y, pred),
			PinballLow:    Pinball(y, low, levels[Low]),
			PinballMedian: Pinball(y, pred, levels[Median]),
			PinballHigh:   Pinball(y, high, levels[High]),
			Coverage:      Coverage(y, low, high),
		}
	}
	return ev, nil
}

// MAE is the mean absolute error.
func MAE(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var s float64
	for i := range y {
		s += math.Abs(y[i] - pred[i])
	}
	return s / float64(len(y))
}

// RMSE is the root mean squared error.
func RMSE(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var s float64
	for i := range y {
		d := y[i] - pred[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(y)))
}

// R2 is the coefficient of determination. It is 0 when y is constant and
// the prediction is not exact, and 1 when it is.
func R2(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	var res, tot float64
	for i := range y {
		res += (y[i] - pred[i]) * (y[i] - pred[i])
		tot += (y[i] - mean) * (y[i] - mean)
	}
	if tot == 0 {
		if res == 0 {
			return 1
		}
		return 0
	}
	return 1 - res/tot
}

// Pinball is the mean quantile loss of pred as an estimate of the q-quantile.
func Pinball(y, pred []float64, q float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var s float64
	for i := range y {
		d := y[i] - pred[i]
		if d >= 0 {
			s += q * d
		} else {
			s += (q - 1) * d
		}
	}
	return s / float64(len(y))
}

// Coverage is the share of y inside [low, high].
func Coverage(y, low, high []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var in int
	for i := range y {
		if low[i] <= y[i] && y[i] <= high[i] {
			in++
		}
	}
	return float64(in) / float64(len(y))
}
