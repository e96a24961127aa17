package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
)

// minGain is the smallest squared-error reduction that justifies a split.
const minGain = 1e-12

// Params are the gradient boosting hyperparameters.
type Params struct {
	Rounds         int     `yaml:"rounds" json:"rounds"`
	MaxDepth       int     `yaml:"max_depth" json:"max_depth"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf" json:"min_samples_leaf"`
}

// DefaultParams returns the hyperparameters used when no model config is given.
func DefaultParams() Params {
	return Params{Rounds: 100, MaxDepth: 3, LearningRate: 0.1, MinSamplesLeaf: 5}
}

// Validate checks that the parameters describe a trainable ensemble.
func (p Params) Validate() error {
	switch {
	case p.Rounds < 1:
		return fmt.Errorf("rounds %d must be at least 1", p.Rounds)
	case p.MaxDepth < 1:
		return fmt.Errorf("max_depth %d must be at least 1", p.MaxDepth)
	case !(p.LearningRate > 0 && p.LearningRate <= 1):
		return fmt.Errorf("learning_rate %v must be in (0, 1]", p.LearningRate)
	case p.MinSamplesLeaf < 1:
		return fmt.Errorf("min_samples_leaf %d must be at least 1", p.MinSamplesLeaf)
	}
	return nil
}

// Node is one node of a flattened regression tree. Internal nodes send x
// left when x[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
}

// Tree is a regression tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the leaf value reached by x.
func (t Tree) Predict(x []float64) float64 {
	n := t.Nodes[0]
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// GradientBoosting is a fitted quantile regressor: an initial constant plus
// a sum of shrunken trees.
type GradientBoosting struct {
	Quantile     float64 `json:"quantile"`
	NumFeatures  int     `json:"num_features"`
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
}

// Predict returns the estimated quantile at x.
func (g *GradientBoosting) Predict(x []float64) float64 {
	v := g.Init
	for _, t := range g.Trees {
		v += g.LearningRate * t.Predict(x)
	}
	return v
}

// Validate checks a decoded model for structural consistency.
func (g *GradientBoosting) Validate() error {
	if !(g.Quantile > 0 && g.Quantile < 1) {
		return fmt.Errorf("quantile %v out of (0, 1)", g.Quantile)
	}
	if g.NumFeatures < 1 {
		return fmt.Errorf("num_features %d must be positive", g.NumFeatures)
	}
	for ti, t := range g.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d: no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= g.NumFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: child index out of range", ti, ni)
			}
		}
	}
	return nil
}

// GBMTrainer fits GradientBoosting models with the pinball loss. Training is
// deterministic: no row or feature subsampling, and ties between equally good
// splits go to the lowest feature index.
type GBMTrainer struct {
	Params Params
}

// NewGBMTrainer returns a trainer for p.
func NewGBMTrainer(p Params) (*GBMTrainer, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("model params: %w", err)
	}
	return &GBMTrainer{Params: p}, nil
}

// Train fits a model of the given quantile of y on x.
func (tr *GBMTrainer) Train(ctx context.Context, x [][]float64, y []float64, quantile float64) (Regressor, error) {
	if err := checkTrainingSet(x, y, quantile); err != nil {
		return nil, err
	}
	n, d := len(x), len(x[0])

	// Presort row indices by every feature once; nodes keep these orders by
	// stable partitioning.
	sorted := make([][]int, d)
	for f := range d {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(a, b int) int {
			switch {
			case x[a][f] < x[b][f]:
				return -1
			case x[a][f] > x[b][f]:
				return 1
			}
			return 0
		})
		sorted[f] = order
	}

	model := &GradientBoosting{
		Quantile:     quantile,
		NumFeatures:  d,
		Init:         quantileOf(slices.Clone(y), quantile),
		LearningRate: tr.Params.LearningRate,
		Trees:        make([]Tree, 0, tr.Params.Rounds),
	}

	current := make([]float64, n)
	for i := range current {
		current[i] = model.Init
	}
	g := &grower{
		x:        x,
		grad:     make([]float64, n),
		resid:    make([]float64, n),
		mark:     make([]bool, n),
		params:   tr.Params,
		quantile: quantile,
	}

	for range tr.Params.Rounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range n {
			g.resid[i] = y[i] - current[i]
			if g.resid[i] > 0 {
				g.grad[i] = quantile
			} else {
				g.grad[i] = quantile - 1
			}
		}
		g.nodes = nil
		g.grow(sorted, 0)
		tree := Tree{Nodes: g.nodes}
		model.Trees = append(model.Trees, tree)
		for i := range n {
			current[i] += tr.Params.LearningRate * tree.Predict(x[i])
		}
	}
	return model, nil
}

func checkTrainingSet(x [][]float64, y []float64, quantile float64) error {
	if !(quantile > 0 && quantile < 1) {
		return fmt.Errorf("quantile %v out of (0, 1)", quantile)
	}
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	if len(x) != len(y) {
		return fmt.Errorf("have %d feature rows but %d targets", len(x), len(y))
	}
	d := len(x[0])
	if d == 0 {
		return errors.New("feature rows are empty")
	}
	for i, row := range x {
		if len(row) != d {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), d)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d feature %d is not finite", i, j)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return fmt.Errorf("row %d target is not finite", i)
		}
	}
	return nil
}

// grower builds one least-squares tree on the pinball gradient, then sets
// each leaf to the quantile of the residuals it holds.
type grower struct {
	x        [][]float64
	grad     []float64
	resid    []float64
	mark     []bool
	params   Params
	quantile float64
	nodes    []Node
}

// grow appends the subtree for the rows in sorted and returns its index.
// sorted[f] lists the node's rows ordered by feature f.
func (g *grower) grow(sorted [][]int, depth int) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{})
	rows := sorted[0]

	if depth < g.params.MaxDepth && len(rows) >= 2*g.params.MinSamplesLeaf {
		if f, threshold, ok := g.bestSplit(sorted); ok {
			left, right := g.partition(sorted, f, threshold)
			l := g.grow(left, depth+1)
			r := g.grow(right, depth+1)
			g.nodes[idx] = Node{Feature: f, Threshold: threshold, Left: l, Right: r}
			return idx
		}
	}

	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i] = g.resid[row]
	}
	g.nodes[idx] = Node{Leaf: true, Value: quantileOf(values, g.quantile)}
	return idx
}

func (g *grower) bestSplit(sorted [][]int) (feature int, threshold float64, ok bool) {
	n := len(sorted[0])
	minLeaf := g.params.MinSamplesLeaf

	var total float64
	for _, row := range sorted[0] {
		total += g.grad[row]
	}
	parent := total * total / float64(n)
	best := minGain

	for f, order := range sorted {
		var sumLeft float64
		for k := 1; k < n; k++ {
			sumLeft += g.grad[order[k-1]]
			if k < minLeaf || n-k < minLeaf {
				continue
			}
			a, b := g.x[order[k-1]][f], g.x[order[k]][f]
			if a == b {
				continue
			}
			sumRight := total - sumLeft
			gain := sumLeft*sumLeft/float64(k) + sumRight*sumRight/float64(n-k) - parent
			if gain > best {
				best, feature, ok = gain, f, true
				threshold = a + (b-a)/2
				if threshold >= b {
					threshold = a
				}
			}
		}
	}
	return feature, threshold, ok
}

// partition splits every per-feature order into the rows going left and
// right, keeping each order sorted.
func (g *grower) partition(sorted [][]int, f int, threshold float64) (left, right [][]int) {
	nLeft := 0
	for _, row := range sorted[0] {
		g.mark[row] = g.x[row][f] <= threshold
		if g.mark[row] {
			nLeft++
		}
	}
	left = make([][]int, len(sorted))
	right = make([][]int, len(sorted))
	for j, order := range sorted {
		l := make([]int, 0, nLeft)
		r := make([]int, 0, len(order)-nLeft)
		for _, row := range order {
			if g.mark[row] {
				l = append(l, row)
			} else {
				r = append(r, row)
			}
		}
		left[j], right[j] = l, r
	}
	return left, right
}

// quantileOf returns the q-quantile of values with linear interpolation
// between order statistics. values is sorted in place.
func quantileOf(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)
	pos := q * float64(len(values)-1)
	lo := int(math.Floor(pos))
	if lo >= len(values)-1 {
		return values[len(values)-1]
	}
	frac := pos - float64(lo)
	return values[lo] + frac*(values[lo+1]-values[lo])
}
