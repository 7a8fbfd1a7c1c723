package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
	"github.com/aegisstack/aegis-detect/internal/repo"
)

// TelemetrySource supplies the metric and log windows the analyzer evaluates.
type TelemetrySource interface {
	FetchMetrics(ctx context.Context, start, end time.Time) ([]models.MetricSample, error)
	FetchLogs(ctx context.Context, start, end time.Time) ([]models.LogEntry, error)
}

// Detector runs detection over fetched telemetry.
type Detector interface {
	Ready() bool
	DetectAnomaly(ctx context.Context, samples []models.MetricSample) models.AnomalyResult
	DetectFailure(ctx context.Context, samples []models.MetricSample, entries []models.LogEntry) models.FailureResult
}

// PolicyChecker gates remediation actions before dispatch.
type PolicyChecker interface {
	Check(ctx context.Context, action models.RemediationAction, actionContext map[string]any) (repo.PolicyDecision, error)
}

// ActionExecutor dispatches approved remediation actions.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.RemediationAction, params map[string]any) (repo.ExecutionReceipt, error)
}

// Analyzer drives the periodic detection loop: fetch a telemetry window,
// evaluate it, and dispatch recommended actions through the policy gate.
type Analyzer struct {
	logger   *slog.Logger
	source   TelemetrySource
	detector Detector
	policy   PolicyChecker
	executor ActionExecutor

	interval    time.Duration
	fetchWindow time.Duration
	autoExecute bool

	now func() time.Time
}

// NewAnalyzer constructs the loop. policy and executor may be nil, in which
// case actions are logged but never dispatched.
func NewAnalyzer(logger *slog.Logger, source TelemetrySource, detector Detector,
	policy PolicyChecker, executor ActionExecutor,
	interval, fetchWindow time.Duration, autoExecute bool) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if fetchWindow <= 0 {
		fetchWindow = 5 * time.Minute
	}
	return &Analyzer{
		logger:      logger,
		source:      source,
		detector:    detector,
		policy:      policy,
		executor:    executor,
		interval:    interval,
		fetchWindow: fetchWindow,
		autoExecute: autoExecute,
		now:         time.Now,
	}
}

// Run executes analysis cycles until the context is cancelled.
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("analysis loop started",
		slog.Duration("interval", a.interval), slog.Duration("window", a.fetchWindow))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("analysis loop stopped")
			return ctx.Err()
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single analysis cycle. Fetch or evaluation trouble is
// logged and skipped; the loop never dies on a bad cycle.
func (a *Analyzer) RunOnce(ctx context.Context) {
	if !a.detector.Ready() {
		a.logger.Warn("skipping analysis cycle, detector not ready")
		return
	}

	end := a.now().UTC()
	start := end.Add(-a.fetchWindow)

	samples, err := a.source.FetchMetrics(ctx, start, end)
	if err != nil {
		a.logger.Error("metric fetch failed", slog.Any("error", err))
		return
	}
	entries, err := a.source.FetchLogs(ctx, start, end)
	if err != nil {
		a.logger.Error("log fetch failed", slog.Any("error", err))
		return
	}

	anomaly := a.detector.DetectAnomaly(ctx, samples)
	if anomaly.IsAnomaly {
		a.logger.Info("anomaly detected",
			slog.Float64("score", anomaly.AnomalyScore),
			slog.String("severity", string(anomaly.Severity)),
			slog.String("action", string(anomaly.RecommendedAction)))
		a.dispatch(ctx, anomaly.RecommendedAction, map[string]any{
			"trigger":          "anomaly",
			"score":            anomaly.AnomalyScore,
			"severity":         string(anomaly.Severity),
			"affected_metrics": anomaly.AffectedMetrics,
		})
	}

	failure := a.detector.DetectFailure(ctx, samples, entries)
	if failure.FailureDetected {
		a.logger.Info("failure detected",
			slog.String("type", failure.FailureType),
			slog.String("severity", string(failure.Severity)),
			slog.String("root_cause", failure.RootCause))
		for _, action := range failure.RecommendedActions {
			a.dispatch(ctx, action, map[string]any{
				"trigger":      "failure",
				"failure_type": failure.FailureType,
				"severity":     string(failure.Severity),
				"root_cause":   failure.RootCause,
			})
		}
	}
}

func (a *Analyzer) dispatch(ctx context.Context, action models.RemediationAction, actionContext map[string]any) {
	if action == models.ActionNoAction {
		return
	}
	if a.policy == nil || a.executor == nil || !a.autoExecute {
		a.logger.Info("action recommended but auto-execution disabled", slog.String("action", string(action)))
		return
	}

	decision, err := a.policy.Check(ctx, action, actionContext)
	if err != nil {
		a.logger.Error("policy check failed", slog.String("action", string(action)), slog.Any("error", err))
		return
	}
	if !decision.Allowed {
		a.logger.Info("action denied by policy",
			slog.String("action", string(action)), slog.String("reason", decision.Reason))
		return
	}

	receipt, err := a.executor.Execute(ctx, action, actionContext)
	if err != nil {
		a.logger.Error("action execution failed", slog.String("action", string(action)), slog.Any("error", err))
		return
	}
	a.logger.Info("action executed",
		slog.String("action", string(action)),
		slog.String("execution_id", receipt.ID),
		slog.Bool("success", receipt.Success))
}
