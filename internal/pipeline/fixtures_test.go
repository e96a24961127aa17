package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-forecast/internal/adapter/csvfile"
	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
	"github.com/couchcryptid/weather-forecast/internal/model"
	"github.com/couchcryptid/weather-forecast/internal/observability"
	"github.com/couchcryptid/weather-forecast/internal/pipeline"
	"github.com/couchcryptid/weather-forecast/internal/report"
	"github.com/couchcryptid/weather-forecast/internal/synthetic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSettings keeps the ensembles small so a full run takes well under a second.
func testSettings() pipeline.Settings {
	return pipeline.Settings{
		Alpha:       0.9,
		Features:    features.DefaultConfig(),
		Params:      model.Params{Rounds: 10, MaxDepth: 2, LearningRate: 0.3, MinSamplesLeaf: 5},
		EvalHoldout: 0.2,
		Workers:     4,
	}
}

// writeObservations writes a synthetic series of the given length and returns its path.
func writeObservations(t *testing.T, hours int) string {
	t.Helper()
	opts := synthetic.DefaultOptions()
	opts.Hours = hours
	return writeSeries(t, synthetic.Generate(opts))
}

func writeSeries(t *testing.T, obs []domain.Observation) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observations.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, synthetic.WriteCSV(f, obs))
	require.NoError(t, f.Close())
	return path
}

func newPipeline(t *testing.T, s pipeline.Settings, metrics *observability.Metrics) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(s, pipeline.TableReaderFunc(csvfile.Read), report.NewWriter(), discardLogger(), metrics)
	require.NoError(t, err)
	return p
}

type recordingPublisher struct {
	mu        sync.Mutex
	forecasts []domain.Forecast
	err       error
}

func (r *recordingPublisher) Publish(_ context.Context, f domain.Forecast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.forecasts = append(r.forecasts, f)
	return nil
}

type stubGeocoder struct {
	result domain.GeocodingResult
	calls  int
}

func (s *stubGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	s.calls++
	return s.result, nil
}

type failingTrainer struct{}

func (failingTrainer) Train(context.Context, [][]float64, []float64, float64) (model.Regressor, error) {
	return nil, errors.New("solver diverged")
}
