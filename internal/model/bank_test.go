package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
)

type constRegressor float64

func (c constRegressor) Predict([]float64) float64 { return float64(c) }

type trainCall struct {
	firstY   float64
	quantile float64
}

// recordingTrainer returns constant models and records every call.
type recordingTrainer struct {
	mu    sync.Mutex
	calls []trainCall
	err   error
}

func (r *recordingTrainer) Train(_ context.Context, _ [][]float64, y []float64, q float64) (Regressor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, trainCall{firstY: y[0], quantile: q})
	if r.err != nil {
		return nil, r.err
	}
	return constRegressor(q), nil
}

func testMatrix(rows, dim int) features.Matrix {
	m := features.Matrix{Names: make([]string, dim)}
	for i := range dim {
		m.Names[i] = fmt.Sprintf("f%d", i)
	}
	for i := range rows {
		v := make([]float64, dim)
		for j := range v {
			v[j] = float64(i + j)
		}
		m.Rows = append(m.Rows, domain.FeatureVector{Values: v})
		m.Targets[domain.Temperature] = append(m.Targets[domain.Temperature], 100+float64(i))
		m.Targets[domain.Humidity] = append(m.Targets[domain.Humidity], 200+float64(i))
		m.Targets[domain.Pressure] = append(m.Targets[domain.Pressure], 300+float64(i))
	}
	return m
}

func constBank(t *testing.T, values map[domain.Target][3]float64) *Bank {
	t.Helper()
	models := make(map[Key]Regressor)
	for _, k := range Keys() {
		models[k] = constRegressor(values[k.Target][k.Band])
	}
	b, err := NewBank(0.9, 2, models)
	require.NoError(t, err)
	return b
}

func TestLevels(t *testing.T) {
	got, err := Levels(0.9)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.05, 0.5, 0.95}, got)

	got, err = Levels(0.8)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.1, 0.5, 0.9}, got)

	for _, alpha := range []float64{0, 1, -0.5, math.NaN()} {
		_, err := Levels(alpha)
		assert.Error(t, err, "alpha %v", alpha)
	}
}

func TestBandAndKeyNames(t *testing.T) {
	assert.Equal(t, "temperature_low", Key{Target: domain.Temperature, Band: Low}.String())
	assert.Equal(t, "pressure_high", Key{Target: domain.Pressure, Band: High}.String())
	assert.Len(t, Keys(), 9)

	b, err := ParseBand("median")
	require.NoError(t, err)
	assert.Equal(t, Median, b)
	_, err = ParseBand("mid")
	assert.Error(t, err)
}

func TestFit_TrainsNineModelsAtTheRightQuantiles(t *testing.T) {
	tr := &recordingTrainer{}
	m := testMatrix(40, 4)

	var trained sync.Map
	bank, err := Fit(context.Background(), tr, m, 0.9, FitOptions{
		Workers:   3,
		OnTrained: func(k Key, _ time.Duration) { trained.Store(k, true) },
	})
	require.NoError(t, err)
	require.Len(t, tr.calls, 9)

	byTarget := map[float64][]float64{}
	for _, c := range tr.calls {
		byTarget[c.firstY] = append(byTarget[c.firstY], c.quantile)
	}
	for _, first := range []float64{100, 200, 300} {
		qs := byTarget[first]
		sort.Float64s(qs)
		assert.Equal(t, []float64{0.05, 0.5, 0.95}, qs, "target with first value %v", first)
	}

	for _, k := range Keys() {
		_, ok := trained.Load(k)
		assert.True(t, ok, "OnTrained not called for %s", k)
	}
	assert.Equal(t, 4, bank.Dim())
	assert.Equal(t, 0.95, bank.Model(Key{Target: domain.Humidity, Band: High}).Predict(nil))
}

func TestFit_MinimumRows(t *testing.T) {
	dim := 34
	_, err := Fit(context.Background(), &recordingTrainer{}, testMatrix(dim+MinRowsMargin-1, dim), 0.9, FitOptions{})
	var ide *domain.InsufficientDataError
	require.True(t, errors.As(err, &ide), "got %v", err)
	assert.Equal(t, dim+23, ide.Have)
	assert.Equal(t, dim+24, ide.Need)

	_, err = Fit(context.Background(), &recordingTrainer{}, testMatrix(dim+MinRowsMargin, dim), 0.9, FitOptions{})
	assert.NoError(t, err)
}

func TestFit_TrainerError(t *testing.T) {
	tr := &recordingTrainer{err: errors.New("boom")}
	_, err := Fit(context.Background(), tr, testMatrix(40, 4), 0.9, FitOptions{Workers: 1})
	assert.ErrorContains(t, err, "boom")
}

func TestFit_BadAlpha(t *testing.T) {
	_, err := Fit(context.Background(), &recordingTrainer{}, testMatrix(40, 4), 1.2, FitOptions{})
	assert.ErrorContains(t, err, "alpha")
}

func TestBank_PredictSortsCrossedQuantiles(t *testing.T) {
	bank := constBank(t, map[domain.Target][3]float64{
		domain.Temperature: {5, 3, 4},
		domain.Humidity:    {40, 50, 60},
		domain.Pressure:    {1012, 1010, 1011},
	})

	iv, err := bank.Predict(domain.Temperature, []float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, domain.Interval{Pred: 4, Low: 3, High: 5}, iv)

	all, err := bank.PredictAll([]float64{0, 0})
	require.NoError(t, err)
	for _, target := range domain.Targets {
		assert.True(t, all[target].Ordered(), target.String())
	}
	assert.Equal(t, domain.Interval{Pred: 50, Low: 40, High: 60}, all[domain.Humidity])
	assert.Equal(t, domain.Interval{Pred: 1011, Low: 1010, High: 1012}, all[domain.Pressure])
}

func TestBank_PredictChecksDimension(t *testing.T) {
	bank := constBank(t, nil)
	_, err := bank.Predict(domain.Humidity, []float64{1, 2, 3})
	assert.ErrorContains(t, err, "want 2")
}

func TestBank_PredictRejectsNonFinite(t *testing.T) {
	bank := constBank(t, map[domain.Target][3]float64{domain.Temperature: {math.NaN(), 0, 1}})
	_, err := bank.Predict(domain.Temperature, []float64{0, 0})
	assert.ErrorContains(t, err, "non-finite")
}

func TestNewBank_RequiresEveryModel(t *testing.T) {
	models := map[Key]Regressor{}
	for _, k := range Keys()[:8] {
		models[k] = constRegressor(0)
	}
	_, err := NewBank(0.9, 3, models)
	assert.ErrorContains(t, err, "missing model pressure_high")
}
