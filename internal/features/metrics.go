package features

import (
	"fmt"
	"math"
	"sort"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// MetricExtractor converts a batch of metric samples into a fixed-name
// statistical feature vector, one group of seven features per metric type.
type MetricExtractor struct{}

// NewMetricExtractor creates a metric feature extractor.
func NewMetricExtractor() *MetricExtractor {
	return &MetricExtractor{}
}

// Extract summarises the samples into `{metric_type}_{stat}` features. Input
// order does not matter; samples are sorted by timestamp before grouping.
// Empty input yields an empty vector, not an error.
func (e *MetricExtractor) Extract(samples []models.MetricSample) models.FeatureVector {
	if len(samples) == 0 {
		return models.FeatureVector{}
	}

	ordered := append([]models.MetricSample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	groups := make(map[models.MetricType][]float64)
	for _, sample := range ordered {
		groups[sample.MetricType] = append(groups[sample.MetricType], sample.Value)
	}

	feats := make(map[string]float64, len(groups)*7)
	for metricType, values := range groups {
		prefix := string(metricType)
		feats[fmt.Sprintf("%s_mean", prefix)] = mean(values)
		feats[fmt.Sprintf("%s_std", prefix)] = stdDev(values)
		feats[fmt.Sprintf("%s_min", prefix)] = minOf(values)
		feats[fmt.Sprintf("%s_max", prefix)] = maxOf(values)
		feats[fmt.Sprintf("%s_median", prefix)] = median(values)
		feats[fmt.Sprintf("%s_rate_of_change", prefix)] = rateOfChange(values)
		feats[fmt.Sprintf("%s_trend", prefix)] = trendSlope(values)
	}

	return models.NewFeatureVector(feats)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func minOf(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func maxOf(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// rateOfChange is (last-first)/n over the timestamp-ordered values, zero for
// a single sample.
func rateOfChange(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return (values[len(values)-1] - values[0]) / float64(len(values))
}

// trendSlope is the ordinary-least-squares slope of value against index
// 0..n-1, zero when fewer than three samples.
func trendSlope(values []float64) float64 {
	n := len(values)
	if n < 3 {
		return 0
	}

	meanX := float64(n-1) / 2
	meanY := mean(values)

	var num, den float64
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
