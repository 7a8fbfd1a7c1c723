package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegisstack/aegis-detect/internal/detectors"
	"github.com/aegisstack/aegis-detect/internal/features"
	"github.com/aegisstack/aegis-detect/internal/models"
	"github.com/aegisstack/aegis-detect/internal/utils"
)

// BootstrapSource supplies historical training data for Initialize. The
// anomaly rows are unlabeled metric-feature rows; the failure set carries
// per-row failure labels (0 healthy, 1 failing) and may be empty when no
// labeled history exists yet.
type BootstrapSource interface {
	AnomalyTrainingRows(ctx context.Context) ([][]float64, error)
	FailureTrainingSet(ctx context.Context) (rows [][]float64, labels []int, err error)
}

// Orchestrator owns the detector pair and the feature extractors and drives
// the detection lifecycle. It starts not ready; Initialize trains the
// detectors from bootstrap history and flips the ready flag. Re-invoking
// Initialize retrains and swaps the models atomically, so concurrent
// Evaluate calls always see either the old or the new model, never a
// half-trained one.
type Orchestrator struct {
	logger     *slog.Logger
	metricExt  *features.MetricExtractor
	logExt     *features.LogExtractor
	scorer     *detectors.AnomalyScorer
	classifier *detectors.FailureClassifier
	bootstrap  BootstrapSource

	initMu sync.Mutex
	ready  atomic.Bool
}

// NewOrchestrator wires a detector pair with the given contamination rate,
// log window, and minimum training set size (zero or less falls back to the
// detector default). bootstrap may be nil, in which case Initialize succeeds
// with untrained detectors running on their heuristic defaults.
func NewOrchestrator(logger *slog.Logger, contamination float64, logWindow time.Duration, minRows int, bootstrap BootstrapSource) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:     logger,
		metricExt:  features.NewMetricExtractor(),
		logExt:     features.NewLogExtractor(logWindow),
		scorer:     detectors.NewAnomalyScorer(logger, contamination, minRows),
		classifier: detectors.NewFailureClassifier(logger, minRows),
		bootstrap:  bootstrap,
	}
}

// Ready reports whether Initialize has completed. Health probes read this.
func (o *Orchestrator) Ready() bool {
	return o.ready.Load()
}

// AnomalyTrained reports whether the scorer runs a trained model.
func (o *Orchestrator) AnomalyTrained() bool { return o.scorer.Trained() }

// FailureTrained reports whether the classifier runs a trained model.
func (o *Orchestrator) FailureTrained() bool { return o.classifier.Trained() }

// Initialize fetches bootstrap history and trains both detectors, then marks
// the orchestrator ready. It is idempotent: calling it again retrains against
// fresh history and publishes the new models atomically. Concurrent calls are
// serialized. A bootstrap fetch failure leaves the current models and ready
// state untouched.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	if o.bootstrap != nil {
		rows, err := o.bootstrap.AnomalyTrainingRows(ctx)
		if err != nil {
			return utils.NewAppError("engine.Initialize", "fetching anomaly training rows", err)
		}
		if err := o.scorer.Train(rows); err != nil {
			return utils.NewAppError("engine.Initialize", "training anomaly scorer", err)
		}

		frows, labels, err := o.bootstrap.FailureTrainingSet(ctx)
		if err != nil {
			return utils.NewAppError("engine.Initialize", "fetching failure training set", err)
		}
		if len(frows) > 0 {
			if err := o.classifier.Train(frows, labels); err != nil {
				return utils.NewAppError("engine.Initialize", "training failure classifier", err)
			}
		}
	}

	o.ready.Store(true)
	o.logger.Info("detection engine initialized",
		slog.Bool("anomaly_trained", o.scorer.Trained()),
		slog.Bool("failure_trained", o.classifier.Trained()))
	return nil
}

// MetricFeatures exposes the extracted metric feature row, used by callers
// that persist rows for later retraining.
func (o *Orchestrator) MetricFeatures(samples []models.MetricSample) models.FeatureVector {
	return o.metricExt.Extract(samples)
}

// EvaluateAnomaly extracts metric features and scores them. An input that
// yields no features gets the documented empty verdict rather than a zero
// feature row.
func (o *Orchestrator) EvaluateAnomaly(samples []models.MetricSample) models.AnomalyResult {
	fv := o.metricExt.Extract(samples)
	if fv.Empty() {
		return emptyAnomalyResult()
	}

	result := o.scorer.Predict(fv)
	result.AffectedMetrics = distinctMetricTypes(samples)
	return result
}

// EvaluateFailure combines metric and windowed log features and runs the
// failure classifier over the joined row, using the current time as the
// window reference.
func (o *Orchestrator) EvaluateFailure(samples []models.MetricSample, entries []models.LogEntry) models.FailureResult {
	return o.EvaluateFailureAt(samples, entries, time.Now().UTC())
}

// EvaluateFailureAt is EvaluateFailure with an explicit window reference,
// for callers that replay historical windows or need determinism.
func (o *Orchestrator) EvaluateFailureAt(samples []models.MetricSample, entries []models.LogEntry, now time.Time) models.FailureResult {
	metricFeats := o.metricExt.Extract(samples)
	logFeats := o.logExt.Extract(entries, now)
	combined := features.Combine(metricFeats, logFeats)
	if combined.Empty() {
		return emptyFailureResult()
	}
	return o.classifier.Predict(combined)
}

func distinctMetricTypes(samples []models.MetricSample) []string {
	seen := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		seen[string(s.MetricType)] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func emptyAnomalyResult() models.AnomalyResult {
	return models.AnomalyResult{
		IsAnomaly:         false,
		AnomalyScore:      0,
		Severity:          models.SeverityLow,
		RecommendedAction: models.ActionNoAction,
		Confidence:        0,
		AffectedMetrics:   []string{},
		Details:           map[string]any{"error": "no features extracted"},
		Timestamp:         time.Now().UTC(),
	}
}

func emptyFailureResult() models.FailureResult {
	return models.FailureResult{
		FailureDetected:    false,
		Severity:           models.SeverityLow,
		RecommendedActions: []models.RemediationAction{models.ActionNoAction},
		Confidence:         0,
		AffectedServices:   []string{},
		Details:            map[string]any{"error": "no features extracted"},
		Timestamp:          time.Now().UTC(),
	}
}
