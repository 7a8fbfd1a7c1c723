package features

import "github.com/aegisstack/aegis-detect/internal/models"

// Combine concatenates two feature vectors into one classifier input row.
// If either side is empty the other is returned unchanged; both empty yields
// the empty vector. Each side's internal order is preserved, the result is
// not re-sorted.
func Combine(a, b models.FeatureVector) models.FeatureVector {
	return a.Concat(b)
}
