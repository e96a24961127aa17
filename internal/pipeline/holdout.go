package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
	"github.com/couchcryptid/weather-forecast/internal/model"
)

// evaluate fits a separate bank on the first (1 - holdout) share of the
// training rows and scores it on the rest. The evaluation builder's baseline
// is frozen from the head only, so no tail statistics leak into its
// features. Evaluation never fails the run; it returns nil when skipped.
func (p *Pipeline) evaluate(ctx context.Context, logger *slog.Logger, series features.Series, matrix features.Matrix) *model.Evaluation {
	if p.settings.EvalHoldout <= 0 {
		return nil
	}
	headRows := int(float64(matrix.Len()) * (1 - p.settings.EvalHoldout))
	if headRows >= matrix.Len() {
		logger.Warn("holdout evaluation skipped", "reason", "no holdout rows", "rows", matrix.Len())
		return nil
	}
	cut := matrix.Rows[headRows].Timestamp

	b, err := features.NewBuilder(p.settings.Features)
	if err == nil {
		err = b.Freeze(series.Until(cut.Add(-time.Nanosecond)))
	}
	var m features.Matrix
	if err == nil {
		m, err = b.Training(series)
	}
	if err != nil {
		logger.Warn("holdout evaluation skipped", "error", err)
		return nil
	}

	head, tail := m.Split(cut)
	if need := model.MinRows(b.Dim()); head.Len() < need || tail.Len() == 0 {
		logger.Warn("holdout evaluation skipped",
			"reason", "too few rows",
			"head_rows", head.Len(),
			"need", need,
			"tail_rows", tail.Len(),
		)
		return nil
	}

	logger.Info("evaluating on holdout", "train_rows", head.Len(), "holdout_rows", tail.Len())
	bank, err := model.Fit(ctx, p.trainer, head, p.settings.Alpha, model.FitOptions{Workers: p.settings.Workers})
	if err != nil {
		logger.Warn("holdout evaluation skipped", "error", err)
		return nil
	}
	ev, err := model.Evaluate(bank, tail)
	if err != nil {
		logger.Warn("holdout evaluation skipped", "error", err)
		return nil
	}

	for _, t := range domain.Targets {
		s := ev.Targets[t.String()]
		p.metrics.HoldoutMAE.WithLabelValues(t.String()).Set(s.MAE)
		p.metrics.HoldoutCoverage.WithLabelValues(t.String()).Set(s.Coverage)
		logger.Info("holdout scores",
			"target", t.String(),
			"mae", s.MAE,
			"rmse", s.RMSE,
			"r2", s.R2,
			"coverage", s.Coverage,
			"pinball_low", s.PinballLow,
			"pinball_median", s.PinballMedian,
			"pinball_high", s.PinballHigh,
		)
	}
	return &ev
}
