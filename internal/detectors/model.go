package detectors

import "github.com/aegisstack/aegis-detect/internal/models"

// Labels returned by DetectorModel.Predict.
const (
	LabelNormal    = 1
	LabelAnomalous = -1
)

// DetectorModel abstracts an unsupervised outlier model. Predict returns the
// outlier label and a decision score: positive means inside the learned
// boundary, negative means outside, with magnitude growing with distance.
type DetectorModel interface {
	// Train fits the model on historical feature rows of equal dimension.
	Train(rows [][]float64) error
	// Predict scores a single row against the fitted model.
	Predict(row []float64) (label int, score float64, err error)
}

// severityForScore maps a [0,1] score onto the four severity bands. The bands
// are contiguous with boundaries at 0.5, 0.7 and 0.9.
func severityForScore(score float64) models.Severity {
	switch {
	case score >= 0.9:
		return models.SeverityCritical
	case score >= 0.7:
		return models.SeverityHigh
	case score >= 0.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
