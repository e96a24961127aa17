// Package forecast rolls a fitted model bank forward hour by hour.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
)

// Defaults for the forecast horizon.
const (
	DefaultSteps = 24
	DefaultStep  = time.Hour
)

// HorizonBuilder builds the features of a not-yet-observed timestamp.
type HorizonBuilder interface {
	Horizon(s features.Series, ts time.Time) (domain.FeatureVector, error)
}

// Predictor returns the intervals of every target for one feature vector.
type Predictor interface {
	PredictAll(x []float64) ([domain.NumTargets]domain.Interval, error)
}

// Engine produces a recursive multi-step forecast: each step's median
// predictions are appended to the series that later steps read their lag
// and window features from.
type Engine struct {
	builder   HorizonBuilder
	predictor Predictor
	logger    *slog.Logger
	steps     int
	step      time.Duration
}

// NewEngine creates an Engine forecasting DefaultSteps hourly steps.
func NewEngine(b HorizonBuilder, p Predictor, logger *slog.Logger) *Engine {
	return &Engine{builder: b, predictor: p, logger: logger, steps: DefaultSteps, step: DefaultStep}
}

// Run forecasts the hours following the last point of history. history
// itself is never modified.
func (e *Engine) Run(ctx context.Context, history features.Series) ([]domain.ForecastRow, error) {
	if history.Len() == 0 {
		return nil, errors.New("forecast: empty history")
	}
	series := history
	ts := history.Last().Timestamp
	rows := make([]domain.ForecastRow, 0, e.steps)

	for i := range e.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts = ts.Add(e.step)

		fv, err := e.builder.Horizon(series, ts)
		if err != nil {
			return nil, fmt.Errorf("forecast step %d: %w", i+1, err)
		}
		intervals, err := e.predictor.PredictAll(fv.Values)
		if err != nil {
			return nil, fmt.Errorf("forecast step %d: %w", i+1, err)
		}
		row := domain.ForecastRow{TargetDate: ts.UTC(), Intervals: intervals}
		rows = append(rows, row)

		series, err = series.Append(features.Point{Timestamp: ts, Values: row.Preds()})
		if err != nil {
			return nil, fmt.Errorf("forecast step %d: %w", i+1, err)
		}
		e.logger.Debug("forecast step",
			"step", i+1,
			"target_date", ts.Format(time.RFC3339),
			"temperature", intervals[domain.Temperature].Pred,
			"humidity", intervals[domain.Humidity].Pred,
			"pressure", intervals[domain.Pressure].Pred,
		)
	}
	return rows, nil
}
