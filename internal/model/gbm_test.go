package model

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepData(n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range n {
		x[i] = []float64{float64(i) / 2}
		if i < n/2 {
			y[i] = 10
		} else {
			y[i] = 20
		}
	}
	return x, y
}

func noiseData(n int, seed uint64) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range n {
		x[i] = []float64{rng.Float64(), rng.Float64()}
		y[i] = 3*x[i][0] + rng.NormFloat64()
	}
	return x, y
}

func newTrainer(t *testing.T) *GBMTrainer {
	t.Helper()
	tr, err := NewGBMTrainer(DefaultParams())
	require.NoError(t, err)
	return tr
}

func TestQuantileOf(t *testing.T) {
	assert.Equal(t, 2.5, quantileOf([]float64{4, 1, 3, 2}, 0.5))
	assert.Equal(t, 1.0, quantileOf([]float64{4, 1, 3, 2}, 0))
	assert.Equal(t, 4.0, quantileOf([]float64{4, 1, 3, 2}, 1))
	assert.InDelta(t, 1.15, quantileOf([]float64{1, 2, 3, 4}, 0.05), 1e-12)
	assert.Equal(t, 7.0, quantileOf([]float64{7}, 0.95))
	assert.Equal(t, 0.0, quantileOf(nil, 0.5))
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	bad := []Params{
		{Rounds: 0, MaxDepth: 3, LearningRate: 0.1, MinSamplesLeaf: 5},
		{Rounds: 10, MaxDepth: 0, LearningRate: 0.1, MinSamplesLeaf: 5},
		{Rounds: 10, MaxDepth: 3, LearningRate: 0, MinSamplesLeaf: 5},
		{Rounds: 10, MaxDepth: 3, LearningRate: 1.5, MinSamplesLeaf: 5},
		{Rounds: 10, MaxDepth: 3, LearningRate: 0.1, MinSamplesLeaf: 0},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
	_, err := NewGBMTrainer(bad[0])
	assert.Error(t, err)
}

func TestGBM_FitsStepFunction(t *testing.T) {
	x, y := stepData(200)
	r, err := newTrainer(t).Train(context.Background(), x, y, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 10, r.Predict([]float64{5}), 0.01)
	assert.InDelta(t, 20, r.Predict([]float64{90}), 0.01)
}

func TestGBM_QuantilesBracketNoise(t *testing.T) {
	x, y := noiseData(400, 7)
	tr := newTrainer(t)

	low, err := tr.Train(context.Background(), x, y, 0.05)
	require.NoError(t, err)
	high, err := tr.Train(context.Background(), x, y, 0.95)
	require.NoError(t, err)

	var inside int
	var lowSum, highSum float64
	for i := range x {
		l, h := low.Predict(x[i]), high.Predict(x[i])
		lowSum += l
		highSum += h
		if l <= y[i] && y[i] <= h {
			inside++
		}
	}
	assert.Less(t, lowSum, highSum)
	coverage := float64(inside) / float64(len(x))
	assert.Greater(t, coverage, 0.7)
	assert.LessOrEqual(t, coverage, 1.0)
}

func TestGBM_Deterministic(t *testing.T) {
	x, y := noiseData(150, 3)
	tr := newTrainer(t)

	a, err := tr.Train(context.Background(), x, y, 0.95)
	require.NoError(t, err)
	b, err := tr.Train(context.Background(), x, y, 0.95)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("two fits differ (-first +second):\n%s", diff)
	}
}

func TestGBM_JSONPreservesPredictions(t *testing.T) {
	x, y := noiseData(120, 11)
	r, err := newTrainer(t).Train(context.Background(), x, y, 0.5)
	require.NoError(t, err)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	var restored GradientBoosting
	require.NoError(t, json.Unmarshal(data, &restored))
	require.NoError(t, restored.Validate())

	for _, row := range x[:20] {
		assert.Equal(t, r.Predict(row), restored.Predict(row))
	}
}

func TestGBM_Validate(t *testing.T) {
	g := &GradientBoosting{Quantile: 0.5, NumFeatures: 2, Trees: []Tree{{Nodes: []Node{
		{Feature: 5, Left: 1, Right: 2},
		{Leaf: true},
		{Leaf: true},
	}}}}
	assert.ErrorContains(t, g.Validate(), "feature 5 out of range")

	g.Trees[0].Nodes[0] = Node{Feature: 1, Left: 0, Right: 2}
	assert.ErrorContains(t, g.Validate(), "child index")

	g.Trees[0].Nodes[0] = Node{Feature: 1, Left: 1, Right: 2}
	assert.NoError(t, g.Validate())
}

func TestGBM_CancelledContext(t *testing.T) {
	x, y := stepData(50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTrainer(t).Train(ctx, x, y, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGBM_RejectsBadInput(t *testing.T) {
	tr := newTrainer(t)
	ctx := context.Background()

	_, err := tr.Train(ctx, nil, nil, 0.5)
	assert.ErrorContains(t, err, "empty")

	_, err = tr.Train(ctx, [][]float64{{1}, {2}}, []float64{1}, 0.5)
	assert.ErrorContains(t, err, "targets")

	_, err = tr.Train(ctx, [][]float64{{1}, {2, 3}}, []float64{1, 2}, 0.5)
	assert.ErrorContains(t, err, "row 1")

	_, err = tr.Train(ctx, [][]float64{{1}}, []float64{1}, 1)
	assert.ErrorContains(t, err, "quantile")
}

func TestGBM_ConstantTarget(t *testing.T) {
	x, _ := stepData(40)
	y := make([]float64, len(x))
	for i := range y {
		y[i] = 1013.25
	}
	r, err := newTrainer(t).Train(context.Background(), x, y, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 1013.25, r.Predict([]float64{3}))
}
