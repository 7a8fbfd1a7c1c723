package detectors

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	defaultTreeCount     = 100
	defaultSubSampleSize = 256
	// decisionScale stretches the gap between a row's path score and the
	// contamination offset into a usable decision value.
	decisionScale = 5.0
	// forestSeed keeps tree construction reproducible across retrains.
	forestSeed = 42
)

// isolationTree is a single randomized partition tree.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	leaf         bool
}

// IsolationForest is a density-based outlier model. Rows isolated by short
// random partition paths score as anomalous; the decision boundary is
// calibrated from the training scores so that roughly a contamination
// fraction of the training set falls outside it.
type IsolationForest struct {
	numTrees      int
	subSampleSize int
	contamination float64
	rng           *rand.Rand

	trees  []*isolationTree
	dims   int
	sample int
	offset float64
}

// NewIsolationForest creates an unfitted forest. Contamination is the
// expected anomaly fraction used to place the decision boundary.
func NewIsolationForest(contamination float64) *IsolationForest {
	if contamination <= 0 || contamination > 0.5 {
		contamination = 0.1
	}
	return &IsolationForest{
		numTrees:      defaultTreeCount,
		subSampleSize: defaultSubSampleSize,
		contamination: contamination,
		rng:           rand.New(rand.NewSource(forestSeed)),
	}
}

// Train fits the forest on the given rows.
func (f *IsolationForest) Train(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("no training rows")
	}
	dims := len(rows[0])
	if dims == 0 {
		return fmt.Errorf("zero-dimension training rows")
	}
	for i, row := range rows {
		if len(row) != dims {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), dims)
		}
	}

	sample := f.subSampleSize
	if sample > len(rows) {
		sample = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample)))) + 1

	trees := make([]*isolationTree, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		subset := f.sampleRows(rows, sample)
		trees = append(trees, f.buildTree(subset, 0, maxDepth))
	}

	f.trees = trees
	f.dims = dims
	f.sample = sample
	f.offset = f.calibrateOffset(rows, sample)
	return nil
}

// calibrateOffset picks the path-score threshold above which a row counts as
// anomalous, so that the contamination fraction of training rows exceeds it.
func (f *IsolationForest) calibrateOffset(rows [][]float64, sample int) float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.pathScore(row, sample)
	}
	sort.Float64s(scores)

	idx := int(math.Ceil((1 - f.contamination) * float64(len(scores))))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return scores[idx]
}

// Predict scores one row. The decision score is positive inside the boundary
// and negative outside, scaled so downstream normalization lands in [0,1].
func (f *IsolationForest) Predict(row []float64) (int, float64, error) {
	if len(f.trees) == 0 {
		return LabelNormal, 0, fmt.Errorf("isolation forest not fitted")
	}
	if len(row) != f.dims {
		return LabelNormal, 0, fmt.Errorf("row has %d features, model expects %d", len(row), f.dims)
	}

	score := f.pathScore(row, f.sample)
	decision := (f.offset - score) * decisionScale

	label := LabelNormal
	if score > f.offset {
		label = LabelAnomalous
	}
	return label, decision, nil
}

// pathScore computes the canonical isolation score 2^(-E(h)/c(n)) in (0,1),
// where higher means easier to isolate.
func (f *IsolationForest) pathScore(row []float64, sample int) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))

	c := averagePathLength(sample)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -avg/c)
}

func (f *IsolationForest) pathLength(tree *isolationTree, row []float64, depth int) float64 {
	if tree.leaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if row[tree.splitFeature] < tree.splitValue {
		return f.pathLength(tree.left, row, depth+1)
	}
	return f.pathLength(tree.right, row, depth+1)
}

func (f *IsolationForest) sampleRows(rows [][]float64, size int) [][]float64 {
	indexes := f.rng.Perm(len(rows))[:size]
	subset := make([][]float64, size)
	for i, idx := range indexes {
		subset[i] = rows[idx]
	}
	return subset
}

func (f *IsolationForest) buildTree(rows [][]float64, depth, maxDepth int) *isolationTree {
	if len(rows) <= 1 || depth >= maxDepth || allIdentical(rows) {
		return &isolationTree{size: len(rows), leaf: true}
	}

	feature := f.rng.Intn(len(rows[0]))
	minVal, maxVal := featureRange(rows, feature)
	if minVal == maxVal {
		return &isolationTree{size: len(rows), leaf: true}
	}
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(rows), leaf: true}
	}

	return &isolationTree{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1, maxDepth),
		right:        f.buildTree(right, depth+1, maxDepth),
		size:         len(rows),
	}
}

// averagePathLength is c(n), the expected unsuccessful-search path length in
// a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2H(n-1) - 2(n-1)/n with H(m) ~ ln(m) + Euler-Mascheroni.
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(rows [][]float64) bool {
	if len(rows) <= 1 {
		return true
	}
	first := rows[0]
	for _, row := range rows[1:] {
		for j := range first {
			if math.Abs(row[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(rows [][]float64, feature int) (float64, float64) {
	minVal := rows[0][feature]
	maxVal := rows[0][feature]
	for _, row := range rows {
		v := row[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
