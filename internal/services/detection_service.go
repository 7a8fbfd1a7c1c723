package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegisstack/aegis-detect/internal/cache"
	"github.com/aegisstack/aegis-detect/internal/engine"
	"github.com/aegisstack/aegis-detect/internal/metrics"
	"github.com/aegisstack/aegis-detect/internal/models"
	"github.com/aegisstack/aegis-detect/internal/patterns"
	"github.com/aegisstack/aegis-detect/internal/repo"
	"github.com/aegisstack/aegis-detect/internal/utils"
)

// patternsCacheKey stores the mined pattern summary between requests.
const patternsCacheKey = "patterns:mined"

// VerdictStore defines the persistence operations the service needs for
// verdict history and retraining data.
type VerdictStore interface {
	Append(ctx context.Context, rec models.VerdictRecord) error
	Query(ctx context.Context, filter models.VerdictFilter) ([]models.VerdictRecord, error)
	Stats(ctx context.Context) (repo.HistoryStats, error)
	RecordTrainingRow(ctx context.Context, kind models.VerdictKind, features []float64, label *int) error
	Prune(ctx context.Context, olderThan time.Time) error
}

// Options tunes the optional service behaviours. The zero value disables
// retention pruning and pattern caching.
type Options struct {
	Retention   time.Duration  // history older than this is pruned on Initialize
	Cache       cache.Provider // caches mined patterns when set
	PatternsTTL time.Duration
}

// DetectionService is the facade the transport layer calls. It runs
// evaluations through the orchestrator, records metrics and latency, and
// persists verdicts fail-soft.
type DetectionService struct {
	logger       *slog.Logger
	orchestrator *engine.Orchestrator
	history      VerdictStore
	miner        *patterns.Miner
	latencies    *utils.LatencyTracker
	opts         Options
}

// NewDetectionService constructs the service facade. history may be nil to
// run without persistence.
func NewDetectionService(logger *slog.Logger, orchestrator *engine.Orchestrator, history VerdictStore, opts Options) *DetectionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectionService{
		logger:       logger,
		orchestrator: orchestrator,
		history:      history,
		miner:        patterns.NewMiner(logger, nil),
		latencies:    utils.NewLatencyTracker(1024),
		opts:         opts,
	}
}

// Ready reports whether the underlying orchestrator has been initialized.
func (s *DetectionService) Ready() bool {
	return s.orchestrator.Ready()
}

// Initialize trains the detectors from bootstrap history and, when a
// retention window is configured, prunes verdicts and training rows that
// have aged out. The retrain ticker calls this periodically, so retention
// is enforced on the same cadence as retraining.
func (s *DetectionService) Initialize(ctx context.Context) error {
	if err := s.orchestrator.Initialize(ctx); err != nil {
		return err
	}
	metrics.SetModelTrained("anomaly", s.orchestrator.AnomalyTrained())
	metrics.SetModelTrained("failure", s.orchestrator.FailureTrained())

	if s.history != nil && s.opts.Retention > 0 {
		cutoff := time.Now().UTC().Add(-s.opts.Retention)
		if err := s.history.Prune(ctx, cutoff); err != nil {
			s.logger.Warn("pruning history failed", slog.Any("error", err))
		}
	}
	return nil
}

// DetectAnomaly evaluates a metric batch and persists the verdict.
func (s *DetectionService) DetectAnomaly(ctx context.Context, samples []models.MetricSample) models.AnomalyResult {
	start := time.Now()
	result := s.orchestrator.EvaluateAnomaly(samples)
	duration := time.Since(start)

	s.latencies.Observe(duration)
	metrics.ObserveEvaluation(metrics.KindAnomaly, duration, anomalyOutcome(result))
	metrics.CountAction(string(result.RecommendedAction))

	rec := models.VerdictRecord{
		ID:         uuid.NewString(),
		Kind:       models.VerdictAnomaly,
		Detected:   result.IsAnomaly,
		Score:      result.AnomalyScore,
		Severity:   result.Severity,
		Action:     result.RecommendedAction,
		Confidence: result.Confidence,
		CreatedAt:  result.Timestamp,
	}
	s.persist(ctx, rec)

	if s.history != nil {
		if fv := s.orchestrator.MetricFeatures(samples); !fv.Empty() {
			if err := s.history.RecordTrainingRow(ctx, models.VerdictAnomaly, fv.Values(), nil); err != nil {
				s.logger.Warn("recording training row failed", slog.Any("error", err))
			}
		}
	}

	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("detection latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return result
}

// DetectFailure evaluates a combined metric+log window and persists the
// verdict.
func (s *DetectionService) DetectFailure(ctx context.Context, samples []models.MetricSample, entries []models.LogEntry) models.FailureResult {
	start := time.Now()
	result := s.orchestrator.EvaluateFailure(samples, entries)
	duration := time.Since(start)

	s.latencies.Observe(duration)
	metrics.ObserveEvaluation(metrics.KindFailure, duration, failureOutcome(result))
	for _, action := range result.RecommendedActions {
		metrics.CountAction(string(action))
	}

	rec := models.VerdictRecord{
		ID:          uuid.NewString(),
		Kind:        models.VerdictFailure,
		Detected:    result.FailureDetected,
		Score:       result.Confidence,
		Severity:    result.Severity,
		Action:      firstAction(result.RecommendedActions),
		FailureType: result.FailureType,
		Confidence:  result.Confidence,
		CreatedAt:   result.Timestamp,
	}
	s.persist(ctx, rec)
	return result
}

// History returns stored verdicts matching the filter.
func (s *DetectionService) History(ctx context.Context, filter models.VerdictFilter) ([]models.VerdictRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Query(ctx, filter)
}

// Stats aggregates verdict history for the reporting endpoint.
func (s *DetectionService) Stats(ctx context.Context) (repo.HistoryStats, error) {
	if s.history == nil {
		return repo.HistoryStats{}, nil
	}
	return s.history.Stats(ctx)
}

// Patterns mines failure patterns from recent verdict history. When a cache
// provider is configured the mined summary is served from it for the
// patterns TTL, since mining rescans the detected-failure history.
func (s *DetectionService) Patterns(ctx context.Context) ([]models.FailurePattern, error) {
	if s.history == nil {
		return nil, nil
	}

	cacheable := s.opts.Cache != nil && s.opts.PatternsTTL > 0
	if cacheable {
		if data, err := s.opts.Cache.Get(ctx, patternsCacheKey); err == nil {
			var cached []models.FailurePattern
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("patterns cache read failed", slog.Any("error", err))
		}
	}

	records, err := s.history.Query(ctx, models.VerdictFilter{Kind: models.VerdictFailure, OnlyDetected: true})
	if err != nil {
		return nil, err
	}
	mined, err := s.miner.Mine(ctx, records)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if data, err := json.Marshal(mined); err == nil {
			if err := s.opts.Cache.Set(ctx, patternsCacheKey, data, s.opts.PatternsTTL); err != nil {
				s.logger.Warn("patterns cache write failed", slog.Any("error", err))
			}
		}
	}
	return mined, nil
}

func (s *DetectionService) persist(ctx context.Context, rec models.VerdictRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, rec); err != nil {
		s.logger.Warn("persisting verdict failed", slog.String("id", rec.ID), slog.Any("error", err))
	}
}

func anomalyOutcome(result models.AnomalyResult) string {
	if _, degraded := result.Details["error"]; degraded {
		return metrics.OutcomeDegraded
	}
	if result.IsAnomaly {
		return metrics.OutcomeDetected
	}
	return metrics.OutcomeClear
}

func failureOutcome(result models.FailureResult) string {
	if _, degraded := result.Details["error"]; degraded {
		return metrics.OutcomeDegraded
	}
	if result.FailureDetected {
		return metrics.OutcomeDetected
	}
	return metrics.OutcomeClear
}

func firstAction(actions []models.RemediationAction) models.RemediationAction {
	if len(actions) == 0 {
		return models.ActionNoAction
	}
	return actions[0]
}
