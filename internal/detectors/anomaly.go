package detectors

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// MinTrainingRows is the smallest training set either detector will fit on.
const MinTrainingRows = 10

// AnomalyScorer produces a general anomaly verdict from metric features.
// It stays untrained until Train succeeds with enough rows; untrained
// predictions return a deterministic default rather than an error.
type AnomalyScorer struct {
	logger        *slog.Logger
	contamination float64
	minRows       int

	mu       sync.RWMutex
	forest   DetectorModel
	envelope DetectorModel
	trained  bool
}

// NewAnomalyScorer creates an untrained scorer. Contamination is the expected
// anomaly fraction used to calibrate the outlier boundary; minRows of zero or
// less falls back to MinTrainingRows.
func NewAnomalyScorer(logger *slog.Logger, contamination float64, minRows int) *AnomalyScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if contamination <= 0 || contamination > 0.5 {
		contamination = 0.1
	}
	if minRows <= 0 {
		minRows = MinTrainingRows
	}
	return &AnomalyScorer{logger: logger, contamination: contamination, minRows: minRows}
}

// Trained reports whether a fitted model is published.
func (s *AnomalyScorer) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trained
}

// Train fits fresh models on the historical rows and publishes them in one
// swap, so concurrent Predict calls see either the old or the new model.
// Fewer than the configured minimum rows is not an error; the scorer stays
// as it was.
func (s *AnomalyScorer) Train(rows [][]float64) error {
	if len(rows) < s.minRows {
		s.logger.Warn("insufficient training samples for anomaly detection",
			slog.Int("rows", len(rows)), slog.Int("min", s.minRows))
		return nil
	}

	forest := NewIsolationForest(s.contamination)
	if err := forest.Train(rows); err != nil {
		s.logger.Error("anomaly model training failed", slog.Any("error", err))
		return err
	}

	// The envelope is a secondary boundary model; it needs more rows than
	// dimensions and its output only corroborates, never decides.
	var envelope DetectorModel
	if len(rows) >= len(rows[0])+1 {
		env := NewGaussianEnvelope(s.contamination)
		if err := env.Train(rows); err != nil {
			s.logger.Warn("gaussian envelope training skipped", slog.Any("error", err))
		} else {
			envelope = env
		}
	}

	s.mu.Lock()
	s.forest = forest
	s.envelope = envelope
	s.trained = true
	s.mu.Unlock()

	s.logger.Info("anomaly detector trained", slog.Int("rows", len(rows)))
	return nil
}

// Predict scores a feature vector. It is a total function: model failures
// degrade to the untrained default with details["error"] set.
func (s *AnomalyScorer) Predict(fv models.FeatureVector) models.AnomalyResult {
	s.mu.RLock()
	forest := s.forest
	envelope := s.envelope
	trained := s.trained
	s.mu.RUnlock()

	if !trained {
		s.logger.Warn("anomaly model not trained, using default prediction")
		return defaultAnomalyResult(nil)
	}

	label, raw, err := forest.Predict(fv.Values())
	if err != nil {
		s.logger.Error("anomaly prediction failed", slog.Any("error", err))
		return defaultAnomalyResult(map[string]any{"error": err.Error()})
	}

	score := clamp(-raw*2, 0, 1)
	severity := severityForScore(score)
	action := s.recommendAction(score, fv)
	affected := topFeatures(fv, 5)
	confidence := 1 - absOf(raw)/10

	details := map[string]any{
		"anomaly_score":     score,
		"raw_score":         raw,
		"affected_features": affected,
		"model_confidence":  confidence,
		"threshold_used":    s.contamination,
	}
	if envelope != nil {
		if envLabel, _, envErr := envelope.Predict(fv.Values()); envErr == nil {
			details["envelope_agrees"] = envLabel == label
		}
	}

	return models.AnomalyResult{
		IsAnomaly:         label == LabelAnomalous,
		AnomalyScore:      score,
		Severity:          severity,
		RecommendedAction: action,
		Confidence:        confidence,
		AffectedMetrics:   []string{},
		Details:           details,
		Timestamp:         time.Now().UTC(),
	}
}

// recommendAction picks the remediation for an anomalous window. Rules are
// evaluated in priority order and only apply once the score crosses 0.5.
func (s *AnomalyScorer) recommendAction(score float64, fv models.FeatureVector) models.RemediationAction {
	if score < 0.5 {
		return models.ActionNoAction
	}
	if fv.Empty() {
		return models.ActionAlertAdmin
	}

	if m, ok := meanOfMatching(fv, "cpu", "memory"); ok && m > 80 {
		return models.ActionScaleUp
	}
	if m, ok := meanOfMatching(fv, "error"); ok && m > 10 {
		return models.ActionRestartPod
	}
	if m, ok := meanOfMatching(fv, "request"); ok && m > 1000 {
		return models.ActionThrottleAPI
	}
	if score >= 0.8 {
		return models.ActionAlertAdmin
	}
	return models.ActionNoAction
}

// meanOfMatching averages values of features whose name contains any of the
// needles (case-insensitive). ok is false when nothing matches.
func meanOfMatching(fv models.FeatureVector, needles ...string) (float64, bool) {
	sum := 0.0
	count := 0
	for i := 0; i < fv.Len(); i++ {
		name, value := fv.At(i)
		lower := strings.ToLower(name)
		for _, needle := range needles {
			if strings.Contains(lower, needle) {
				sum += value
				count++
				break
			}
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// topFeatures returns the limit feature names with the largest absolute
// values, descending, ties resolved by vector order.
func topFeatures(fv models.FeatureVector, limit int) []string {
	type entry struct {
		name string
		abs  float64
	}
	entries := make([]entry, 0, fv.Len())
	for i := 0; i < fv.Len(); i++ {
		name, value := fv.At(i)
		if value < 0 {
			value = -value
		}
		entries = append(entries, entry{name: name, abs: value})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].abs > entries[j].abs })

	if len(entries) > limit {
		entries = entries[:limit]
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

func absOf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func defaultAnomalyResult(details map[string]any) models.AnomalyResult {
	if details == nil {
		details = map[string]any{}
	}
	return models.AnomalyResult{
		IsAnomaly:         false,
		AnomalyScore:      0,
		Severity:          models.SeverityLow,
		RecommendedAction: models.ActionNoAction,
		Confidence:        0,
		AffectedMetrics:   []string{},
		Details:           details,
		Timestamp:         time.Now().UTC(),
	}
}
