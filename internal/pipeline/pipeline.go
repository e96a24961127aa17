// Package pipeline runs one forecast end to end: validate the input table,
// build features, train or load the model bank, forecast the next 24 hours,
// and write the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
	"github.com/couchcryptid/weather-forecast/internal/forecast"
	"github.com/couchcryptid/weather-forecast/internal/model"
	"github.com/couchcryptid/weather-forecast/internal/modelstore"
	"github.com/couchcryptid/weather-forecast/internal/observability"
)

// TableReader loads the raw input table from path.
type TableReader interface {
	Read(path string) (domain.RawTable, error)
}

// TableReaderFunc adapts a function to TableReader.
type TableReaderFunc func(path string) (domain.RawTable, error)

func (f TableReaderFunc) Read(path string) (domain.RawTable, error) { return f(path) }

// ReportWriter commits the forecast rows to path.
type ReportWriter interface {
	Write(path string, rows []domain.ForecastRow) error
}

// Publisher sends a committed forecast downstream.
type Publisher interface {
	Publish(ctx context.Context, f domain.Forecast) error
}

// ModelStore persists trained banks between runs.
type ModelStore interface {
	Load() (modelstore.Bundle, error)
	Save(b modelstore.Bundle) error
}

// Settings are the run parameters.
type Settings struct {
	Alpha       float64
	Features    features.Config
	Params      model.Params
	EvalHoldout float64
	Workers     int
	// Retrain ignores a stored bank even when it is compatible.
	Retrain bool
}

// Result summarizes a successful run.
type Result struct {
	RunID        string
	IssuedAt     time.Time
	Rows         []domain.ForecastRow
	Label        domain.SiteLabel
	Observations int
	TrainingRows int
	// ModelSource is "trained" or "loaded".
	ModelSource string
	Evaluation  *model.Evaluation
}

// Pipeline is a single forecast run. It moves through the states in order
// and ends in Done or Failed; a Pipeline cannot be run twice.
type Pipeline struct {
	settings  Settings
	reader    TableReader
	writer    ReportWriter
	trainer   model.Trainer
	store     ModelStore
	publisher Publisher
	geocoder  domain.Geocoder
	logger    *slog.Logger
	metrics   *observability.Metrics

	state State
	err   error
}

// New creates a pipeline that trains with the gradient boosting trainer
// configured by settings.Params.
func New(settings Settings, reader TableReader, writer ReportWriter, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	trainer, err := model.NewGBMTrainer(settings.Params)
	if err != nil {
		return nil, fmt.Errorf("model params: %w", err)
	}
	if _, err := model.Levels(settings.Alpha); err != nil {
		return nil, err
	}
	return &Pipeline{
		settings: settings,
		reader:   reader,
		writer:   writer,
		trainer:  trainer,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// WithTrainer replaces the default trainer.
func (p *Pipeline) WithTrainer(t model.Trainer) *Pipeline {
	p.trainer = t
	return p
}

// WithStore enables loading and saving the model bank.
func (p *Pipeline) WithStore(s ModelStore) *Pipeline {
	p.store = s
	return p
}

// WithPublisher enables publishing the forecast after it is written.
func (p *Pipeline) WithPublisher(pub Publisher) *Pipeline {
	p.publisher = pub
	return p
}

// WithGeocoder enables labelling the site with a place name.
func (p *Pipeline) WithGeocoder(g domain.Geocoder) *Pipeline {
	p.geocoder = g
	return p
}

// State returns the current state.
func (p *Pipeline) State() State { return p.state }

// Err returns the error that moved the pipeline to Failed, if any.
func (p *Pipeline) Err() error { return p.err }

// Run forecasts the 24 hours after the last observation in dataPath and
// writes them to outPath. On any error the pipeline ends in Failed and no
// output file is written.
func (p *Pipeline) Run(ctx context.Context, dataPath, outPath string) (Result, error) {
	if p.state != Idle {
		return Result{}, fmt.Errorf("pipeline already %s", p.state)
	}
	start := time.Now()
	res := Result{RunID: uuid.NewString(), IssuedAt: domain.Now()}
	logger := p.logger.With("run_id", res.RunID)

	err := p.run(ctx, logger, dataPath, outPath, &res)
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.fail(logger, err)
		p.metrics.RunsTotal.WithLabelValues("failure").Inc()
		return Result{}, err
	}
	p.transition(logger, Done)
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, dataPath, outPath string, res *Result) error {
	var obs []domain.Observation
	err := p.stage(ctx, logger, Validating, func() error {
		raw, err := p.reader.Read(dataPath)
		if err != nil {
			return err
		}
		obs, err = domain.ValidateTable(raw)
		if err != nil {
			return err
		}
		res.Observations = len(obs)
		p.metrics.ObservationRows.Set(float64(len(obs)))
		logger.Info("observations validated", "rows", len(obs), "path", dataPath)
		return nil
	})
	if err != nil {
		return err
	}

	series := features.NewSeries(obs)

	var (
		builder *features.Builder
		matrix  features.Matrix
	)
	err = p.stage(ctx, logger, BuildingFeatures, func() error {
		var err error
		builder, matrix, err = p.buildFeatures(series)
		if err != nil {
			return err
		}
		res.TrainingRows = matrix.Len()
		p.metrics.TrainingRows.Set(float64(matrix.Len()))
		logger.Info("features built", "rows", matrix.Len(), "features", builder.Dim())
		return nil
	})
	if err != nil {
		return err
	}

	res.Label = domain.LabelSite(ctx, series.Site, p.geocoder, logger)
	if res.Label.PlaceName != "" {
		logger.Info("site labelled", "place", res.Label.PlaceName, "address", res.Label.FormattedAddress)
	}

	var bank *model.Bank
	err = p.stage(ctx, logger, Training, func() error {
		var err error
		bank, builder, err = p.train(ctx, logger, series, builder, matrix, res)
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, logger, Forecasting, func() error {
		rows, err := forecast.NewEngine(builder, bank, logger).Run(ctx, series)
		if err != nil {
			return err
		}
		res.Rows = rows
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, logger, Writing, func() error {
		if err := p.writer.Write(outPath, res.Rows); err != nil {
			return err
		}
		p.metrics.ForecastRows.Set(float64(len(res.Rows)))
		logger.Info("forecast saved", "path", outPath, "rows", len(res.Rows))
		return nil
	})
	if err != nil {
		return err
	}

	p.publish(ctx, logger, domain.Forecast{
		RunID:    res.RunID,
		IssuedAt: res.IssuedAt,
		Site:     series.Site,
		Label:    res.Label,
		Alpha:    p.settings.Alpha,
		Rows:     res.Rows,
	})
	return nil
}

// buildFeatures freezes a builder on the full history and builds the
// training matrix. A history too short for even one row is an
// InsufficientDataError.
func (p *Pipeline) buildFeatures(series features.Series) (*features.Builder, features.Matrix, error) {
	b, err := features.NewBuilder(p.settings.Features)
	if err != nil {
		return nil, features.Matrix{}, err
	}
	if err := b.Freeze(series); err != nil {
		return nil, features.Matrix{}, err
	}
	m, err := b.Training(series)
	if err != nil {
		return nil, features.Matrix{}, err
	}
	if m.Len() == 0 {
		return nil, features.Matrix{}, &domain.InsufficientDataError{
			Stage: "feature building",
			Have:  series.Len(),
			Need:  int(p.settings.Features.MaxLookback()/time.Hour) + 1,
		}
	}
	return b, m, nil
}

// train loads a compatible stored bank or fits a new one. It returns the
// builder whose baseline matches the returned bank.
func (p *Pipeline) train(ctx context.Context, logger *slog.Logger, series features.Series, builder *features.Builder,
	matrix features.Matrix, res *Result,
) (*model.Bank, *features.Builder, error) {
	if bank, restored, ok := p.loadStored(logger, series, builder); ok {
		res.ModelSource = "loaded"
		return bank, restored, nil
	}

	res.Evaluation = p.evaluate(ctx, logger, series, matrix)

	logger.Info("training model bank", "rows", matrix.Len(), "alpha", p.settings.Alpha, "workers", p.settings.Workers)
	bank, err := model.Fit(ctx, p.trainer, matrix, p.settings.Alpha, model.FitOptions{
		Workers: p.settings.Workers,
		OnTrained: func(k model.Key, elapsed time.Duration) {
			p.metrics.ModelTrainDuration.WithLabelValues(k.String()).Observe(elapsed.Seconds())
			logger.Debug("model trained", "model", k.String(), "duration", elapsed)
		},
	})
	if err != nil {
		return nil, nil, err
	}
	res.ModelSource = "trained"
	p.save(logger, series, builder, matrix, bank, res)
	return bank, builder, nil
}

// loadStored returns a stored bank when the store holds one that fits this
// run. Any problem falls back to training.
func (p *Pipeline) loadStored(logger *slog.Logger, series features.Series, builder *features.Builder) (*model.Bank, *features.Builder, bool) {
	if p.store == nil {
		return nil, nil, false
	}
	if p.settings.Retrain {
		logger.Info("retrain requested, ignoring stored models")
		return nil, nil, false
	}

	bundle, err := p.store.Load()
	switch {
	case errors.Is(err, modelstore.ErrNotFound):
		p.metrics.ModelStore.WithLabelValues("missing").Inc()
		logger.Info("no stored models, training")
		return nil, nil, false
	case err != nil:
		p.metrics.ModelStore.WithLabelValues("error").Inc()
		logger.Warn("stored models unreadable, retraining", "error", err)
		return nil, nil, false
	}

	want := modelstore.Requirements{
		Alpha:    p.settings.Alpha,
		Params:   p.settings.Params,
		Features: modelstore.SpecOf(builder),
		Site:     series.Site,
	}
	if err := modelstore.Compatible(bundle.Manifest, want); err != nil {
		p.metrics.ModelStore.WithLabelValues("incompatible").Inc()
		logger.Warn("stored models incompatible, retraining", "error", err)
		return nil, nil, false
	}

	restored, err := features.NewBuilder(p.settings.Features)
	if err == nil {
		err = restored.Restore(bundle.Manifest.Baseline)
	}
	if err != nil {
		p.metrics.ModelStore.WithLabelValues("error").Inc()
		logger.Warn("stored baseline unusable, retraining", "error", err)
		return nil, nil, false
	}

	p.metrics.ModelStore.WithLabelValues("loaded").Inc()
	logger.Info("stored models loaded",
		"trained_run_id", bundle.Manifest.RunID,
		"trained_at", bundle.Manifest.TrainedAt.Format(time.RFC3339),
		"training_rows", bundle.Manifest.TrainingRows,
	)
	return bundle.Bank, restored, true
}

// save writes the freshly trained bank. A failed save is logged and does
// not fail the run; the forecast does not depend on it.
func (p *Pipeline) save(logger *slog.Logger, series features.Series, builder *features.Builder,
	matrix features.Matrix, bank *model.Bank, res *Result,
) {
	if p.store == nil {
		return
	}
	err := p.store.Save(modelstore.Bundle{
		Manifest: modelstore.Manifest{
			RunID:        res.RunID,
			TrainedAt:    domain.Now(),
			Params:       p.settings.Params,
			Site:         series.Site,
			TrainingRows: matrix.Len(),
			Features:     modelstore.SpecOf(builder),
			Baseline:     builder.Baseline(),
		},
		Bank:       bank,
		Evaluation: res.Evaluation,
	})
	if err != nil {
		p.metrics.ModelStore.WithLabelValues("error").Inc()
		logger.Error("saving models failed", "error", err)
		return
	}
	p.metrics.ModelStore.WithLabelValues("saved").Inc()
}

// publish sends the committed forecast. Failures are counted and logged;
// the report is already on disk.
func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, f domain.Forecast) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, f); err != nil {
		p.metrics.PublishErrors.Inc()
		logger.Warn("publishing forecast failed", "error", err)
		return
	}
	p.metrics.MessagesPublished.Add(float64(len(f.Rows)))
	logger.Info("forecast published", "messages", len(f.Rows))
}

// stage moves to s, runs fn and records its duration. A cancelled context
// stops the run before the stage starts.
func (p *Pipeline) stage(ctx context.Context, logger *slog.Logger, s State, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.transition(logger, s)
	start := time.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(s.String()).Observe(time.Since(start).Seconds())
	return err
}

func (p *Pipeline) transition(logger *slog.Logger, to State) {
	logger.Info("pipeline state", "from", p.state.String(), "to", to.String())
	p.state = to
	p.metrics.PipelineState.Set(float64(to))
}

func (p *Pipeline) fail(logger *slog.Logger, err error) {
	logger.Error("forecast run failed", "state", p.state.String(), "error", err)
	p.err = err
	p.transition(logger, Failed)
}
