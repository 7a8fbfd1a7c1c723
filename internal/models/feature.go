package models

import (
	"math"
	"sort"
)

const (
	posInfReplacement = 1e10
	negInfReplacement = -1e10
)

// FeatureVector is an ordered name -> value mapping produced by feature
// extraction. An empty vector means "no signal" and is distinct from a vector
// whose values happen to be zero.
type FeatureVector struct {
	names  []string
	values []float64
}

// NewFeatureVector builds a vector from a feature map with names sorted
// lexicographically and all values sanitized.
func NewFeatureVector(features map[string]float64) FeatureVector {
	if len(features) == 0 {
		return FeatureVector{}
	}
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = sanitize(features[name])
	}
	return FeatureVector{names: names, values: values}
}

// sanitize maps NaN to 0 and infinities to large finite sentinels so that
// downstream models never see non-finite inputs.
func sanitize(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return posInfReplacement
	case math.IsInf(v, -1):
		return negInfReplacement
	default:
		return v
	}
}

// Empty reports whether the vector carries no features at all.
func (fv FeatureVector) Empty() bool { return len(fv.names) == 0 }

// Len returns the number of features.
func (fv FeatureVector) Len() int { return len(fv.names) }

// Names returns the feature names in vector order.
func (fv FeatureVector) Names() []string {
	return append([]string(nil), fv.names...)
}

// Values returns the feature values in vector order.
func (fv FeatureVector) Values() []float64 {
	return append([]float64(nil), fv.values...)
}

// At returns the name and value at position i.
func (fv FeatureVector) At(i int) (string, float64) {
	return fv.names[i], fv.values[i]
}

// Value looks up a feature by name.
func (fv FeatureVector) Value(name string) (float64, bool) {
	for i, n := range fv.names {
		if n == name {
			return fv.values[i], true
		}
	}
	return 0, false
}

// Concat appends other's features after fv's, preserving each side's internal
// order. Neither input is re-sorted.
func (fv FeatureVector) Concat(other FeatureVector) FeatureVector {
	if fv.Empty() {
		return other
	}
	if other.Empty() {
		return fv
	}
	names := make([]string, 0, len(fv.names)+len(other.names))
	names = append(names, fv.names...)
	names = append(names, other.names...)
	values := make([]float64, 0, len(fv.values)+len(other.values))
	values = append(values, fv.values...)
	values = append(values, other.values...)
	return FeatureVector{names: names, values: values}
}
