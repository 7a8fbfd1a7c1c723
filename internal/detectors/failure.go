package detectors

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// failureActions maps a failure type to its remediation sequence.
var failureActions = map[string][]models.RemediationAction{
	"service_down":       {models.ActionRestartPod, models.ActionAlertAdmin},
	"high_latency":       {models.ActionScaleUp, models.ActionThrottleAPI},
	"memory_leak":        {models.ActionRestartPod, models.ActionAlertAdmin},
	"connection_timeout": {models.ActionRestartPod, models.ActionScaleUp},
	"unknown":            {models.ActionAlertAdmin},
}

// FailureClassifier produces a failure-pattern verdict from combined
// metric+log features. Untrained it falls back to threshold heuristics;
// trained it uses a class-balanced tree ensemble.
type FailureClassifier struct {
	logger  *slog.Logger
	minRows int

	mu      sync.RWMutex
	forest  *ForestClassifier
	trained bool
}

// NewFailureClassifier creates an untrained classifier. minRows of zero or
// less falls back to MinTrainingRows.
func NewFailureClassifier(logger *slog.Logger, minRows int) *FailureClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	if minRows <= 0 {
		minRows = MinTrainingRows
	}
	return &FailureClassifier{logger: logger, minRows: minRows}
}

// Trained reports whether a fitted model is published.
func (c *FailureClassifier) Trained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trained
}

// Train fits a fresh ensemble on labeled rows (label 1 = failure) and
// publishes it atomically. Fewer than the configured minimum rows leaves
// the classifier as it was, without error.
func (c *FailureClassifier) Train(rows [][]float64, labels []int) error {
	if len(rows) < c.minRows {
		c.logger.Warn("insufficient training samples for failure detection",
			slog.Int("rows", len(rows)), slog.Int("min", c.minRows))
		return nil
	}

	forest := NewForestClassifier()
	if err := forest.Train(rows, labels); err != nil {
		c.logger.Error("failure model training failed", slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	c.forest = forest
	c.trained = true
	c.mu.Unlock()

	c.logger.Info("failure detector trained", slog.Int("rows", len(rows)))
	return nil
}

// Predict classifies a combined feature vector. It never returns an error:
// model failures degrade to the not-detected default with details["error"].
func (c *FailureClassifier) Predict(fv models.FeatureVector) models.FailureResult {
	c.mu.RLock()
	forest := c.forest
	trained := c.trained
	c.mu.RUnlock()

	if !trained {
		c.logger.Warn("failure model not trained, using heuristic detection")
		return c.heuristicDetect(fv)
	}

	proba, err := forest.Proba(fv.Values())
	if err != nil {
		c.logger.Error("failure prediction failed", slog.Any("error", err))
		return notDetectedResult(map[string]any{"error": err.Error()})
	}

	confidence := proba[0]
	if proba[1] > confidence {
		confidence = proba[1]
	}
	detected := detectedFromProba(proba)

	details := map[string]any{
		"confidence":             confidence,
		"prediction_probability": proba[1],
	}

	if !detected {
		result := notDetectedResult(details)
		result.Confidence = confidence
		return result
	}

	failureType := identifyFailureType(fv)
	severity := severityForScore(confidence)
	return models.FailureResult{
		FailureDetected:    true,
		FailureType:        failureType,
		Severity:           severity,
		RecommendedActions: remediationsFor(failureType, severity),
		Confidence:         confidence,
		RootCause:          analyzeRootCause(fv),
		AffectedServices:   affectedServices(),
		Details:            details,
		Timestamp:          time.Now().UTC(),
	}
}

// heuristicDetect covers the untrained path with fixed thresholds over the
// log-derived features.
func (c *FailureClassifier) heuristicDetect(fv models.FeatureVector) models.FailureResult {
	if fv.Empty() {
		return notDetectedResult(map[string]any{})
	}

	errorRate, _ := fv.Value("error_rate")
	errorCount, _ := fv.Value("error_count")
	if errorRate > 0.2 || errorCount > 50 {
		return models.FailureResult{
			FailureDetected:    true,
			FailureType:        "high_error_rate",
			Severity:           models.SeverityHigh,
			RecommendedActions: []models.RemediationAction{models.ActionRestartPod, models.ActionAlertAdmin},
			Confidence:         0.8,
			RootCause:          fmt.Sprintf("High error rate detected: %.2f%%", errorRate*100),
			AffectedServices:   []string{"api-service"},
			Details:            map[string]any{"heuristic": true, "error_rate": errorRate},
			Timestamp:          time.Now().UTC(),
		}
	}

	if connection, ok := fv.Value("keyword_connection"); ok && connection > 10 {
		return models.FailureResult{
			FailureDetected:    true,
			FailureType:        "connection_timeout",
			Severity:           models.SeverityMedium,
			RecommendedActions: []models.RemediationAction{models.ActionRestartPod},
			Confidence:         0.7,
			RootCause:          "Multiple connection timeout errors detected",
			AffectedServices:   []string{"database", "api-service"},
			Details:            map[string]any{"heuristic": true},
			Timestamp:          time.Now().UTC(),
		}
	}

	return notDetectedResult(map[string]any{})
}

// identifyFailureType applies first-match rules over the combined features.
// detectedFromProba is the argmax over [p(no failure), p(failure)]; an exact
// tie resolves to class 0, not detected.
func detectedFromProba(proba [2]float64) bool {
	return proba[1] > proba[0]
}

func identifyFailureType(fv models.FeatureVector) string {
	if errorRate, _ := fv.Value("error_rate"); errorRate > 0.3 {
		return "service_down"
	}
	if timeouts, _ := fv.Value("keyword_timeout"); timeouts > 5 {
		return "connection_timeout"
	}
	if exceptions, _ := fv.Value("keyword_exception"); exceptions > 10 {
		return "unhandled_exception"
	}
	return "unknown"
}

// remediationsFor resolves the action sequence for a failure type, appending
// an admin alert for high-impact verdicts. Duplicates are removed while
// preserving order.
func remediationsFor(failureType string, severity models.Severity) []models.RemediationAction {
	base, ok := failureActions[failureType]
	if !ok {
		base = failureActions["unknown"]
	}

	actions := make([]models.RemediationAction, 0, len(base)+1)
	seen := make(map[models.RemediationAction]struct{}, len(base)+1)
	for _, action := range base {
		if _, dup := seen[action]; dup {
			continue
		}
		seen[action] = struct{}{}
		actions = append(actions, action)
	}

	if severity == models.SeverityHigh || severity == models.SeverityCritical {
		if _, dup := seen[models.ActionAlertAdmin]; !dup {
			actions = append(actions, models.ActionAlertAdmin)
		}
	}
	return actions
}

// analyzeRootCause joins the triggered diagnostic phrases, falling back to a
// generic message when nothing specific fired.
func analyzeRootCause(fv models.FeatureVector) string {
	causes := make([]string, 0, 3)

	if errorRate, _ := fv.Value("error_rate"); errorRate > 0.2 {
		causes = append(causes, fmt.Sprintf("High error rate (%.2f%%)", errorRate*100))
	}
	if timeouts, _ := fv.Value("keyword_timeout"); timeouts > 5 {
		causes = append(causes, "Multiple timeout errors")
	}
	if connections, _ := fv.Value("keyword_connection"); connections > 5 {
		causes = append(causes, "Connection failures")
	}

	if len(causes) == 0 {
		return "Anomalous behavior detected"
	}
	return strings.Join(causes, " and ")
}

// affectedServices is a coarse placeholder.
// TODO: derive affected services from service-labeled features once the log
// extractor emits per-service breakdowns.
func affectedServices() []string {
	return []string{"api-service", "worker-service"}
}

func notDetectedResult(details map[string]any) models.FailureResult {
	if details == nil {
		details = map[string]any{}
	}
	return models.FailureResult{
		FailureDetected:    false,
		Severity:           models.SeverityLow,
		RecommendedActions: []models.RemediationAction{models.ActionNoAction},
		Confidence:         0,
		AffectedServices:   []string{},
		Details:            details,
		Timestamp:          time.Now().UTC(),
	}
}
