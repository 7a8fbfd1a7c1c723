package detectors

import (
	"fmt"
	"math"
	"sort"
)

// GaussianEnvelope fits an axis-aligned Gaussian boundary around the training
// distribution and flags rows whose normalized squared distance from the
// center exceeds the contamination-calibrated threshold.
type GaussianEnvelope struct {
	contamination float64

	means     []float64
	variances []float64
	threshold float64
	fitted    bool
}

// NewGaussianEnvelope creates an unfitted envelope model.
func NewGaussianEnvelope(contamination float64) *GaussianEnvelope {
	if contamination <= 0 || contamination > 0.5 {
		contamination = 0.1
	}
	return &GaussianEnvelope{contamination: contamination}
}

// Train estimates per-dimension mean and variance and places the decision
// threshold at the (1-contamination) quantile of training distances.
func (g *GaussianEnvelope) Train(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("no training rows")
	}
	dims := len(rows[0])
	if dims == 0 {
		return fmt.Errorf("zero-dimension training rows")
	}
	if len(rows) < dims+1 {
		return fmt.Errorf("need at least %d rows for %d dimensions, got %d", dims+1, dims, len(rows))
	}
	for i, row := range rows {
		if len(row) != dims {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), dims)
		}
	}

	means := make([]float64, dims)
	for _, row := range rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(rows))
	}

	variances := make([]float64, dims)
	for _, row := range rows {
		for j, v := range row {
			d := v - means[j]
			variances[j] += d * d
		}
	}
	for j := range variances {
		variances[j] /= float64(len(rows))
		if variances[j] < 1e-12 {
			variances[j] = 1e-12
		}
	}

	g.means = means
	g.variances = variances

	distances := make([]float64, len(rows))
	for i, row := range rows {
		distances[i] = g.distance(row)
	}
	sort.Float64s(distances)
	idx := int(math.Ceil((1 - g.contamination) * float64(len(distances))))
	if idx >= len(distances) {
		idx = len(distances) - 1
	}
	g.threshold = distances[idx]
	g.fitted = true
	return nil
}

// Predict returns the outlier label and a decision score (threshold minus
// distance; negative means outside the envelope).
func (g *GaussianEnvelope) Predict(row []float64) (int, float64, error) {
	if !g.fitted {
		return LabelNormal, 0, fmt.Errorf("gaussian envelope not fitted")
	}
	if len(row) != len(g.means) {
		return LabelNormal, 0, fmt.Errorf("row has %d features, model expects %d", len(row), len(g.means))
	}

	dist := g.distance(row)
	decision := g.threshold - dist
	label := LabelNormal
	if dist > g.threshold {
		label = LabelAnomalous
	}
	return label, decision, nil
}

// distance is the variance-normalized squared distance from the center.
func (g *GaussianEnvelope) distance(row []float64) float64 {
	sum := 0.0
	for j, v := range row {
		d := v - g.means[j]
		sum += d * d / g.variances[j]
	}
	return sum
}
