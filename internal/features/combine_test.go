package features

import (
	"testing"

	"github.com/aegisstack/aegis-detect/internal/models"
)

func TestCombineIdentities(t *testing.T) {
	a := models.NewFeatureVector(map[string]float64{"cpu_usage_mean": 50, "cpu_usage_max": 90})
	empty := models.FeatureVector{}

	if got := Combine(a, empty); got.Len() != a.Len() {
		t.Fatalf("combine(A, empty) changed length: %d != %d", got.Len(), a.Len())
	}
	if got := Combine(empty, a); got.Len() != a.Len() {
		t.Fatalf("combine(empty, A) changed length: %d != %d", got.Len(), a.Len())
	}
	if got := Combine(empty, empty); !got.Empty() {
		t.Fatalf("combine(empty, empty) should be empty")
	}
}

func TestCombinePreservesOrder(t *testing.T) {
	a := models.NewFeatureVector(map[string]float64{"request_rate_mean": 100, "cpu_usage_mean": 50})
	b := models.NewFeatureVector(map[string]float64{"error_count": 3, "total_logs": 10})

	combined := Combine(a, b)

	want := append(a.Names(), b.Names()...)
	got := combined.Names()
	if len(got) != len(want) {
		t.Fatalf("combined length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("combined[%d] = %q, want %q (A order then B order)", i, got[i], want[i])
		}
	}

	wantValues := append(a.Values(), b.Values()...)
	for i, v := range combined.Values() {
		if v != wantValues[i] {
			t.Fatalf("combined value[%d] = %v, want %v", i, v, wantValues[i])
		}
	}
}
