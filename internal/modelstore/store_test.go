package modelstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
	"github.com/couchcryptid/weather-forecast/internal/model"
)

var site = domain.Site{Lat: 48.85, Lon: 2.35, ElevationM: 35}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func smallParams() model.Params {
	return model.Params{Rounds: 5, MaxDepth: 2, LearningRate: 0.3, MinSamplesLeaf: 3}
}

// trainedBundle fits a real bank on a few days of synthetic hourly data.
func trainedBundle(t *testing.T) (Bundle, *features.Builder, features.Matrix) {
	t.Helper()
	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]domain.Observation, 24*4)
	for i := range obs {
		obs[i] = domain.Observation{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Site:        site,
			Temperature: 15 + float64(i%24)/2,
			Humidity:    70 - float64(i%24),
			Pressure:    1012 + float64(i%5),
		}
	}
	s := features.NewSeries(obs)
	b, err := features.NewBuilder(features.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, b.Freeze(s))
	m, err := b.Training(s)
	require.NoError(t, err)

	tr, err := model.NewGBMTrainer(smallParams())
	require.NoError(t, err)
	bank, err := model.Fit(context.Background(), tr, m, 0.9, model.FitOptions{Workers: 3})
	require.NoError(t, err)

	ev, err := model.Evaluate(bank, m)
	require.NoError(t, err)

	return Bundle{
		Manifest: Manifest{
			RunID:        "7f9c1d2e-0000-4000-8000-000000000001",
			TrainedAt:    time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC),
			Params:       smallParams(),
			Site:         site,
			TrainingRows: m.Len(),
			Features:     SpecOf(b),
			Baseline:     b.Baseline(),
		},
		Bank:       bank,
		Evaluation: &ev,
	}, b, m
}

func requirementsOf(b *features.Builder) Requirements {
	return Requirements{Alpha: 0.9, Params: smallParams(), Features: SpecOf(b), Site: site}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	bundle, b, m := trainedBundle(t)
	dir := filepath.Join(t.TempDir(), "models")
	store := New(dir, testLogger())

	require.NoError(t, store.Save(bundle))
	for _, name := range []string{ManifestFile, MetricsFile, "temperature_low.json", "pressure_high.json"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, bundle.Manifest.RunID, got.Manifest.RunID)
	assert.True(t, bundle.Manifest.TrainedAt.Equal(got.Manifest.TrainedAt))
	assert.Equal(t, [3]float64{0.05, 0.5, 0.95}, got.Manifest.Quantiles)
	assert.Len(t, got.Manifest.Models, 9)
	require.NotNil(t, got.Evaluation)
	assert.Equal(t, bundle.Evaluation.Rows, got.Evaluation.Rows)
	require.NoError(t, Compatible(got.Manifest, requirementsOf(b)))

	for _, row := range m.Rows[:10] {
		want, err := bundle.Bank.PredictAll(row.Values)
		require.NoError(t, err)
		have, err := got.Bank.PredictAll(row.Values)
		require.NoError(t, err)
		assert.Equal(t, want, have)
	}

	ts := time.Date(2024, time.June, 5, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, bundle.Manifest.Baseline.Value(domain.Humidity, ts), got.Manifest.Baseline.Value(domain.Humidity, ts))
}

func TestStore_LoadMissing(t *testing.T) {
	_, err := New(t.TempDir(), testLogger()).Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadCorruptModel(t *testing.T) {
	bundle, _, _ := trainedBundle(t)
	dir := t.TempDir()
	store := New(dir, testLogger())
	require.NoError(t, store.Save(bundle))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "humidity_median.json"), []byte("{not json"), 0o644))

	_, err := store.Load()
	var ioe *domain.IOError
	require.True(t, errors.As(err, &ioe), "got %v", err)
	assert.Equal(t, "decode", ioe.Op)
}

func TestStore_LoadWithoutMetrics(t *testing.T) {
	bundle, _, _ := trainedBundle(t)
	bundle.Evaluation = nil
	dir := t.TempDir()
	store := New(dir, testLogger())
	require.NoError(t, store.Save(bundle))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got.Evaluation)
}

// unmarshalable is a regressor whose JSON encoding always fails.
type unmarshalable struct{}

func (unmarshalable) Predict([]float64) float64 { return 999 }

func (unmarshalable) MarshalJSON() ([]byte, error) { return nil, errors.New("boom") }

func TestStore_FailedSaveLeavesNoManifest(t *testing.T) {
	bundle, _, m := trainedBundle(t)
	dir := t.TempDir()
	store := New(dir, testLogger())
	require.NoError(t, store.Save(bundle))

	models := make(map[model.Key]model.Regressor)
	for i, k := range model.Keys() {
		models[k] = bundle.Bank.Model(k)
		if i == 4 {
			models[k] = unmarshalable{}
		}
	}
	broken, err := model.NewBank(0.9, len(m.Names), models)
	require.NoError(t, err)

	second := bundle
	second.Bank = broken
	second.Manifest.RunID = "7f9c1d2e-0000-4000-8000-000000000002"
	require.ErrorContains(t, store.Save(second), "boom")

	assert.NoFileExists(t, filepath.Join(dir, ManifestFile))
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveWithoutEvaluationDropsStaleMetrics(t *testing.T) {
	bundle, _, _ := trainedBundle(t)
	dir := t.TempDir()
	store := New(dir, testLogger())
	require.NoError(t, store.Save(bundle))
	require.FileExists(t, filepath.Join(dir, MetricsFile))

	bundle.Evaluation = nil
	require.NoError(t, store.Save(bundle))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got.Evaluation)
}

func TestCompatible(t *testing.T) {
	bundle, b, _ := trainedBundle(t)
	bundle.Manifest.Alpha = 0.9

	tests := []struct {
		name   string
		mutate func(*Requirements)
		want   string
	}{
		{"alpha", func(r *Requirements) { r.Alpha = 0.8 }, "alpha"},
		{"params", func(r *Requirements) { r.Params.Rounds = 50 }, "model params"},
		{"site", func(r *Requirements) { r.Site.Lat = 10 }, "site"},
		{"layout", func(r *Requirements) { r.Features.Names = r.Features.Names[:5] }, "feature layout"},
		{"tolerance", func(r *Requirements) { r.Features.LagTolerance = "10m0s" }, "feature settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requirementsOf(b)
			tt.mutate(&req)
			err := Compatible(bundle.Manifest, req)
			require.ErrorIs(t, err, ErrIncompatible)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	bundle.Manifest.Baseline = nil
	assert.ErrorContains(t, Compatible(bundle.Manifest, requirementsOf(b)), "baseline missing")
}
