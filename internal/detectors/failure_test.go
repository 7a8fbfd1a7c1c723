package detectors

import (
	"strings"
	"testing"

	"github.com/aegisstack/aegis-detect/internal/models"
)

func TestDetectedFromProba(t *testing.T) {
	cases := []struct {
		name  string
		proba [2]float64
		want  bool
	}{
		{"failure majority", [2]float64{0.4, 0.6}, true},
		{"healthy majority", [2]float64{0.6, 0.4}, false},
		{"exact tie resolves healthy", [2]float64{0.5, 0.5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectedFromProba(tc.proba); got != tc.want {
				t.Fatalf("detectedFromProba(%v) = %v, want %v", tc.proba, got, tc.want)
			}
		})
	}
}

func TestFailureClassifierHeuristicHighErrorRate(t *testing.T) {
	clf := NewFailureClassifier(testLogger(), 0)

	fv := models.NewFeatureVector(map[string]float64{
		"error_rate":         0.25,
		"error_count":        12,
		"total_logs":         48,
		"keyword_connection": 0,
	})

	result := clf.Predict(fv)

	if !result.FailureDetected {
		t.Fatalf("expected failure detected")
	}
	if result.FailureType != "high_error_rate" {
		t.Fatalf("failure type = %q, want high_error_rate", result.FailureType)
	}
	if result.Severity != models.SeverityHigh {
		t.Fatalf("severity = %v, want high", result.Severity)
	}
	if result.Confidence != 0.8 {
		t.Fatalf("confidence = %v, want 0.8", result.Confidence)
	}
	wantActions := []models.RemediationAction{models.ActionRestartPod, models.ActionAlertAdmin}
	if len(result.RecommendedActions) != len(wantActions) {
		t.Fatalf("actions = %v, want %v", result.RecommendedActions, wantActions)
	}
	for i, action := range wantActions {
		if result.RecommendedActions[i] != action {
			t.Fatalf("actions[%d] = %v, want %v", i, result.RecommendedActions[i], action)
		}
	}
	if !strings.Contains(result.RootCause, "25.00%") {
		t.Fatalf("root cause %q missing formatted error rate", result.RootCause)
	}
}

func TestFailureClassifierHeuristicConnectionTimeout(t *testing.T) {
	clf := NewFailureClassifier(testLogger(), 0)

	fv := models.NewFeatureVector(map[string]float64{
		"error_rate":         0.05,
		"error_count":        4,
		"keyword_connection": 15,
	})

	result := clf.Predict(fv)

	if !result.FailureDetected || result.FailureType != "connection_timeout" {
		t.Fatalf("expected connection_timeout verdict, got %+v", result)
	}
	if result.Severity != models.SeverityMedium {
		t.Fatalf("severity = %v, want medium", result.Severity)
	}
	if result.Confidence != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", result.Confidence)
	}
	if len(result.AffectedServices) != 2 || result.AffectedServices[0] != "database" {
		t.Fatalf("affected services = %v", result.AffectedServices)
	}
}

func TestFailureClassifierHeuristicQuiet(t *testing.T) {
	clf := NewFailureClassifier(testLogger(), 0)

	fv := models.NewFeatureVector(map[string]float64{
		"error_rate":  0.01,
		"error_count": 1,
	})

	result := clf.Predict(fv)

	if result.FailureDetected {
		t.Fatalf("quiet window flagged as failure: %+v", result)
	}
	if result.Severity != models.SeverityLow {
		t.Fatalf("severity = %v, want low", result.Severity)
	}
	if len(result.RecommendedActions) != 1 || result.RecommendedActions[0] != models.ActionNoAction {
		t.Fatalf("actions = %v, want [no_action]", result.RecommendedActions)
	}
	if result.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", result.Confidence)
	}
}

func TestFailureClassifierTooFewRowsStaysUntrained(t *testing.T) {
	clf := NewFailureClassifier(testLogger(), 0)

	rows := referenceRows(5, 3, 0)
	if err := clf.Train(rows, []int{0, 1, 0, 1, 0}); err != nil {
		t.Fatalf("train with too few rows must not error: %v", err)
	}
	if clf.Trained() {
		t.Fatalf("classifier trained after 5 rows, want untrained")
	}
}

func TestFailureClassifierTrainedDetection(t *testing.T) {
	clf := NewFailureClassifier(testLogger(), 0)

	// Healthy windows: low error features. Failing windows: high error rate
	// and timeout keywords, shifted well apart.
	rows := make([][]float64, 0, 60)
	labels := make([]int, 0, 60)
	healthy := referenceRows(30, 4, 0)
	failing := referenceRows(30, 4, 12)
	rows = append(rows, healthy...)
	rows = append(rows, failing...)
	for i := 0; i < 30; i++ {
		labels = append(labels, 0)
	}
	for i := 0; i < 30; i++ {
		labels = append(labels, 1)
	}

	if err := clf.Train(rows, labels); err != nil {
		t.Fatalf("train: %v", err)
	}
	if !clf.Trained() {
		t.Fatalf("classifier should be trained")
	}

	// Vector order must match training dimension count (4 features).
	failingVec := models.NewFeatureVector(map[string]float64{
		"error_rate":      12,
		"keyword_timeout": 12,
		"error_count":     12,
		"total_logs":      12,
	})
	result := clf.Predict(failingVec)
	if !result.FailureDetected {
		t.Fatalf("failing window not detected: %+v", result)
	}
	if result.Confidence < 0.5 || result.Confidence > 1 {
		t.Fatalf("confidence = %v, want within (0.5, 1]", result.Confidence)
	}
	// error_rate 12 > 0.3 hits the first failure-type rule.
	if result.FailureType != "service_down" {
		t.Fatalf("failure type = %q, want service_down", result.FailureType)
	}
	if result.RootCause == "" {
		t.Fatalf("expected a root cause for a detected failure")
	}

	healthyVec := models.NewFeatureVector(map[string]float64{
		"error_rate":      0.1,
		"keyword_timeout": 0,
		"error_count":     0.2,
		"total_logs":      0.1,
	})
	result = clf.Predict(healthyVec)
	if result.FailureDetected {
		t.Fatalf("healthy window flagged: %+v", result)
	}
	if result.FailureType != "" {
		t.Fatalf("failure type = %q, want empty for no failure", result.FailureType)
	}
}

func TestFailureClassifierDimensionMismatchDegrades(t *testing.T) {
	clf := NewFailureClassifier(testLogger(), 0)

	rows := make([][]float64, 0, 20)
	labels := make([]int, 0, 20)
	rows = append(rows, referenceRows(10, 3, 0)...)
	rows = append(rows, referenceRows(10, 3, 9)...)
	for i := 0; i < 10; i++ {
		labels = append(labels, 0)
	}
	for i := 0; i < 10; i++ {
		labels = append(labels, 1)
	}
	if err := clf.Train(rows, labels); err != nil {
		t.Fatalf("train: %v", err)
	}

	result := clf.Predict(models.NewFeatureVector(map[string]float64{"only_one": 1}))
	if result.FailureDetected {
		t.Fatalf("degraded result must not detect failure")
	}
	if _, ok := result.Details["error"]; !ok {
		t.Fatalf("degraded result missing details.error: %v", result.Details)
	}
}

func TestRemediationsForTable(t *testing.T) {
	cases := []struct {
		failureType string
		severity    models.Severity
		want        []models.RemediationAction
	}{
		{"service_down", models.SeverityMedium, []models.RemediationAction{models.ActionRestartPod, models.ActionAlertAdmin}},
		{"high_latency", models.SeverityMedium, []models.RemediationAction{models.ActionScaleUp, models.ActionThrottleAPI}},
		{"high_latency", models.SeverityHigh, []models.RemediationAction{models.ActionScaleUp, models.ActionThrottleAPI, models.ActionAlertAdmin}},
		{"connection_timeout", models.SeverityCritical, []models.RemediationAction{models.ActionRestartPod, models.ActionScaleUp, models.ActionAlertAdmin}},
		{"memory_leak", models.SeverityCritical, []models.RemediationAction{models.ActionRestartPod, models.ActionAlertAdmin}},
		{"never_seen", models.SeverityLow, []models.RemediationAction{models.ActionAlertAdmin}},
	}

	for _, tc := range cases {
		got := remediationsFor(tc.failureType, tc.severity)
		if len(got) != len(tc.want) {
			t.Fatalf("%s/%s: actions = %v, want %v", tc.failureType, tc.severity, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("%s/%s: actions[%d] = %v, want %v", tc.failureType, tc.severity, i, got[i], tc.want[i])
			}
		}
	}
}

func TestAnalyzeRootCauseJoinsPhrases(t *testing.T) {
	fv := models.NewFeatureVector(map[string]float64{
		"error_rate":         0.4,
		"keyword_timeout":    8,
		"keyword_connection": 7,
	})

	cause := analyzeRootCause(fv)
	if !strings.Contains(cause, " and ") {
		t.Fatalf("root cause %q should join phrases with ' and '", cause)
	}
	if !strings.Contains(cause, "40.00%") {
		t.Fatalf("root cause %q missing error-rate percentage", cause)
	}

	if got := analyzeRootCause(models.NewFeatureVector(map[string]float64{"total_logs": 3})); got != "Anomalous behavior detected" {
		t.Fatalf("fallback root cause = %q", got)
	}
}
