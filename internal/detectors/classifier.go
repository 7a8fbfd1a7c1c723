package detectors

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	classifierTreeCount = 60
	classifierMaxDepth  = 8
	classifierMinLeaf   = 2
	classifierSeed      = 42
)

// cartNode is a node of a binary classification tree.
type cartNode struct {
	feature   int
	threshold float64
	left      *cartNode
	right     *cartNode
	leaf      bool
	// weighted class mass at a leaf, index 0 = no failure, 1 = failure.
	classMass [2]float64
}

// ForestClassifier is a bootstrap ensemble of Gini decision trees with
// inverse-frequency class weights, so rare failure rows are not drowned out
// by healthy ones.
type ForestClassifier struct {
	numTrees int
	maxDepth int
	rng      *rand.Rand

	trees   []*cartNode
	weights [2]float64
	dims    int
}

// NewForestClassifier creates an unfitted classifier ensemble.
func NewForestClassifier() *ForestClassifier {
	return &ForestClassifier{
		numTrees: classifierTreeCount,
		maxDepth: classifierMaxDepth,
		rng:      rand.New(rand.NewSource(classifierSeed)),
	}
}

// Train fits the ensemble on labeled rows. Labels must be 0 (no failure) or
// 1 (failure).
func (c *ForestClassifier) Train(rows [][]float64, labels []int) error {
	if len(rows) == 0 {
		return fmt.Errorf("no training rows")
	}
	if len(rows) != len(labels) {
		return fmt.Errorf("rows/labels length mismatch: %d vs %d", len(rows), len(labels))
	}
	dims := len(rows[0])
	if dims == 0 {
		return fmt.Errorf("zero-dimension training rows")
	}
	var counts [2]int
	for i, row := range rows {
		if len(row) != dims {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), dims)
		}
		if labels[i] != 0 && labels[i] != 1 {
			return fmt.Errorf("label %d at row %d, want 0 or 1", labels[i], i)
		}
		counts[labels[i]]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		return fmt.Errorf("training data must contain both classes")
	}

	// Balanced weighting: n / (2 * class count).
	n := float64(len(rows))
	weights := [2]float64{n / (2 * float64(counts[0])), n / (2 * float64(counts[1]))}

	trees := make([]*cartNode, 0, c.numTrees)
	for i := 0; i < c.numTrees; i++ {
		sampleRows, sampleLabels := c.bootstrap(rows, labels)
		trees = append(trees, c.buildTree(sampleRows, sampleLabels, weights, 0))
	}

	c.trees = trees
	c.weights = weights
	c.dims = dims
	return nil
}

// Trained reports whether the ensemble has been fitted.
func (c *ForestClassifier) Trained() bool { return len(c.trees) > 0 }

// Proba returns the class probabilities [p(no failure), p(failure)] as the
// weighted vote share across trees.
func (c *ForestClassifier) Proba(row []float64) ([2]float64, error) {
	if !c.Trained() {
		return [2]float64{}, fmt.Errorf("classifier not fitted")
	}
	if len(row) != c.dims {
		return [2]float64{}, fmt.Errorf("row has %d features, model expects %d", len(row), c.dims)
	}

	var votes [2]float64
	for _, tree := range c.trees {
		leaf := descend(tree, row)
		total := leaf.classMass[0] + leaf.classMass[1]
		if total == 0 {
			continue
		}
		votes[0] += leaf.classMass[0] / total
		votes[1] += leaf.classMass[1] / total
	}
	sum := votes[0] + votes[1]
	if sum == 0 {
		return [2]float64{0.5, 0.5}, nil
	}
	return [2]float64{votes[0] / sum, votes[1] / sum}, nil
}

func descend(node *cartNode, row []float64) *cartNode {
	for !node.leaf {
		if row[node.feature] < node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node
}

func (c *ForestClassifier) bootstrap(rows [][]float64, labels []int) ([][]float64, []int) {
	n := len(rows)
	outRows := make([][]float64, n)
	outLabels := make([]int, n)
	for i := 0; i < n; i++ {
		idx := c.rng.Intn(n)
		outRows[i] = rows[idx]
		outLabels[i] = labels[idx]
	}
	return outRows, outLabels
}

func (c *ForestClassifier) buildTree(rows [][]float64, labels []int, weights [2]float64, depth int) *cartNode {
	mass := classMass(labels, weights)
	if depth >= c.maxDepth || len(rows) < 2*classifierMinLeaf || mass[0] == 0 || mass[1] == 0 {
		return &cartNode{leaf: true, classMass: mass}
	}

	feature, threshold, ok := c.bestSplit(rows, labels, weights)
	if !ok {
		return &cartNode{leaf: true, classMass: mass}
	}

	var leftRows, rightRows [][]float64
	var leftLabels, rightLabels []int
	for i, row := range rows {
		if row[feature] < threshold {
			leftRows = append(leftRows, row)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightRows = append(rightRows, row)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	if len(leftRows) < classifierMinLeaf || len(rightRows) < classifierMinLeaf {
		return &cartNode{leaf: true, classMass: mass}
	}

	return &cartNode{
		feature:   feature,
		threshold: threshold,
		left:      c.buildTree(leftRows, leftLabels, weights, depth+1),
		right:     c.buildTree(rightRows, rightLabels, weights, depth+1),
	}
}

// bestSplit searches a random sqrt(d) feature subset for the threshold with
// the lowest weighted Gini impurity.
func (c *ForestClassifier) bestSplit(rows [][]float64, labels []int, weights [2]float64) (int, float64, bool) {
	dims := len(rows[0])
	subset := int(math.Ceil(math.Sqrt(float64(dims))))
	features := c.rng.Perm(dims)[:subset]

	bestGini := math.Inf(1)
	bestFeature := -1
	bestThreshold := 0.0

	for _, feature := range features {
		values := make([]float64, 0, len(rows))
		for _, row := range rows {
			values = append(values, row[feature])
		}
		sort.Float64s(values)

		for i := 1; i < len(values); i++ {
			if values[i] == values[i-1] {
				continue
			}
			threshold := (values[i-1] + values[i]) / 2

			var leftMass, rightMass [2]float64
			for j, row := range rows {
				w := weights[labels[j]]
				if row[feature] < threshold {
					leftMass[labels[j]] += w
				} else {
					rightMass[labels[j]] += w
				}
			}

			gini := weightedGini(leftMass, rightMass)
			if gini < bestGini {
				bestGini = gini
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func classMass(labels []int, weights [2]float64) [2]float64 {
	var mass [2]float64
	for _, label := range labels {
		mass[label] += weights[label]
	}
	return mass
}

func weightedGini(left, right [2]float64) float64 {
	leftTotal := left[0] + left[1]
	rightTotal := right[0] + right[1]
	total := leftTotal + rightTotal
	if total == 0 {
		return math.Inf(1)
	}
	return leftTotal/total*giniOf(left, leftTotal) + rightTotal/total*giniOf(right, rightTotal)
}

func giniOf(mass [2]float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	p0 := mass[0] / total
	p1 := mass[1] / total
	return 1 - p0*p0 - p1*p1
}
