package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aegisstack/aegis-detect/internal/cache"
	"github.com/aegisstack/aegis-detect/internal/engine"
	"github.com/aegisstack/aegis-detect/internal/models"
	"github.com/aegisstack/aegis-detect/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu          sync.Mutex
	appended    []models.VerdictRecord
	rows        [][]float64
	queryOut    []models.VerdictRecord
	queryCalls  int
	pruneCutoff time.Time
}

func (f *fakeStore) Append(_ context.Context, rec models.VerdictRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, rec)
	return nil
}

func (f *fakeStore) Query(context.Context, models.VerdictFilter) ([]models.VerdictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	return f.queryOut, nil
}

func (f *fakeStore) Prune(_ context.Context, olderThan time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCutoff = olderThan
	return nil
}

func (f *fakeStore) Stats(context.Context) (repo.HistoryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return repo.HistoryStats{TotalVerdicts: len(f.appended)}, nil
}

func (f *fakeStore) RecordTrainingRow(_ context.Context, _ models.VerdictKind, features []float64, _ *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := append([]float64(nil), features...)
	f.rows = append(f.rows, row)
	return nil
}

func newTestService(store VerdictStore) *DetectionService {
	return newTestServiceOpts(store, Options{})
}

func newTestServiceOpts(store VerdictStore, opts Options) *DetectionService {
	orch := engine.NewOrchestrator(testLogger(), 0.1, 5*time.Minute, 0, nil)
	return NewDetectionService(testLogger(), orch, store, opts)
}

func metricBatch(values ...float64) []models.MetricSample {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := make([]models.MetricSample, len(values))
	for i, v := range values {
		samples[i] = models.MetricSample{
			MetricType: models.MetricCPUUsage,
			Value:      v,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}
	}
	return samples
}

func TestDetectAnomalyPersistsVerdictAndTrainingRow(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result := svc.DetectAnomaly(context.Background(), metricBatch(30, 31, 32))

	if len(store.appended) != 1 {
		t.Fatalf("appended %d records, want 1", len(store.appended))
	}
	rec := store.appended[0]
	if rec.ID == "" {
		t.Fatalf("verdict record missing id")
	}
	if rec.Kind != models.VerdictAnomaly {
		t.Fatalf("record kind = %v", rec.Kind)
	}
	if rec.Detected != result.IsAnomaly || rec.Score != result.AnomalyScore {
		t.Fatalf("record %+v does not match result %+v", rec, result)
	}

	if len(store.rows) != 1 {
		t.Fatalf("recorded %d training rows, want 1", len(store.rows))
	}
	if len(store.rows[0]) != 7 {
		t.Fatalf("training row has %d features, want 7", len(store.rows[0]))
	}
}

func TestDetectAnomalyEmptyInputSkipsTrainingRow(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	result := svc.DetectAnomaly(context.Background(), nil)

	if result.IsAnomaly {
		t.Fatalf("empty input flagged as anomaly")
	}
	if len(store.appended) != 1 {
		t.Fatalf("empty verdict not persisted")
	}
	if len(store.rows) != 0 {
		t.Fatalf("empty input recorded a training row: %v", store.rows)
	}
}

func TestDetectFailurePersistsVerdict(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	now := time.Now().UTC()
	entries := []models.LogEntry{
		{Timestamp: now, Level: models.LevelError, Message: "request failed", Service: "api"},
		{Timestamp: now, Level: models.LevelError, Message: "request failed", Service: "api"},
		{Timestamp: now, Level: models.LevelInfo, Message: "ok", Service: "api"},
	}

	result := svc.DetectFailure(context.Background(), metricBatch(30, 31), entries)

	if !result.FailureDetected {
		t.Fatalf("error-heavy window not detected: %+v", result)
	}
	if len(store.appended) != 1 {
		t.Fatalf("appended %d records, want 1", len(store.appended))
	}
	rec := store.appended[0]
	if rec.Kind != models.VerdictFailure || !rec.Detected {
		t.Fatalf("record = %+v", rec)
	}
	if rec.FailureType != result.FailureType {
		t.Fatalf("record failure type = %q, want %q", rec.FailureType, result.FailureType)
	}
	if rec.Action != result.RecommendedActions[0] {
		t.Fatalf("record action = %v, want first recommended action", rec.Action)
	}
}

func TestServiceWithoutStore(t *testing.T) {
	svc := newTestService(nil)

	result := svc.DetectAnomaly(context.Background(), metricBatch(30, 31, 32))
	if result.Timestamp.IsZero() {
		t.Fatalf("result missing timestamp")
	}

	records, err := svc.History(context.Background(), models.VerdictFilter{})
	if err != nil || records != nil {
		t.Fatalf("history without store = %v, %v", records, err)
	}
	if _, err := svc.Stats(context.Background()); err != nil {
		t.Fatalf("stats without store: %v", err)
	}
}

func TestPatternsMinesHistory(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{queryOut: []models.VerdictRecord{
		{Kind: models.VerdictFailure, Detected: true, FailureType: "high_error_rate",
			Severity: models.SeverityHigh, Action: models.ActionRestartPod, Confidence: 0.8, CreatedAt: base},
		{Kind: models.VerdictFailure, Detected: true, FailureType: "high_error_rate",
			Severity: models.SeverityHigh, Action: models.ActionRestartPod, Confidence: 0.8, CreatedAt: base},
	}}
	svc := newTestService(store)

	patterns, err := svc.Patterns(context.Background())
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(patterns) != 1 || patterns[0].FailureType != "high_error_rate" || patterns[0].Occurrences != 2 {
		t.Fatalf("patterns = %+v", patterns)
	}
}

func TestInitializePrunesRetainedHistory(t *testing.T) {
	store := &fakeStore{}
	svc := newTestServiceOpts(store, Options{Retention: time.Hour})

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	store.mu.Lock()
	cutoff := store.pruneCutoff
	store.mu.Unlock()
	if cutoff.IsZero() {
		t.Fatalf("retention configured but history was not pruned")
	}
	want := time.Now().UTC().Add(-time.Hour)
	if diff := cutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("prune cutoff = %v, want about %v", cutoff, want)
	}
}

func TestInitializeWithoutRetentionSkipsPrune(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.pruneCutoff.IsZero() {
		t.Fatalf("history pruned without a retention window")
	}
}

func TestPatternsServedFromCache(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{queryOut: []models.VerdictRecord{
		{Kind: models.VerdictFailure, Detected: true, FailureType: "high_error_rate",
			Severity: models.SeverityHigh, Action: models.ActionRestartPod, Confidence: 0.8, CreatedAt: base},
	}}
	svc := newTestServiceOpts(store, Options{Cache: cache.NewMemoryProvider(), PatternsTTL: time.Minute})

	first, err := svc.Patterns(context.Background())
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	second, err := svc.Patterns(context.Background())
	if err != nil {
		t.Fatalf("cached patterns: %v", err)
	}

	store.mu.Lock()
	calls := store.queryCalls
	store.mu.Unlock()
	if calls != 1 {
		t.Fatalf("history queried %d times, want 1", calls)
	}
	if len(second) != 1 || second[0].FailureType != first[0].FailureType || second[0].Occurrences != first[0].Occurrences {
		t.Fatalf("cached patterns = %+v, fresh = %+v", second, first)
	}
}

// A request carrying extra metric types widens its feature row; retraining
// from history must still succeed on the majority shape.
func TestSelfSeededRetrainSurvivesMixedBatches(t *testing.T) {
	store, err := repo.OpenHistory(t.TempDir() + "/verdicts.db")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()

	orch := engine.NewOrchestrator(testLogger(), 0.1, 5*time.Minute, 0, store)
	svc := NewDetectionService(testLogger(), orch, store, Options{})

	for i := 0; i < 12; i++ {
		base := float64(30 + i)
		svc.DetectAnomaly(context.Background(), metricBatch(base, base+1, base+2))
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mixed := append(metricBatch(30, 31, 32),
		models.MetricSample{MetricType: models.MetricMemoryUsage, Value: 60, Timestamp: base},
		models.MetricSample{MetricType: models.MetricMemoryUsage, Value: 61, Timestamp: base.Add(time.Second)},
	)
	svc.DetectAnomaly(context.Background(), mixed)

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize after mixed batches: %v", err)
	}
	if !orch.AnomalyTrained() {
		t.Fatalf("scorer not trained from self-seeded history")
	}
}

func TestInitializeMarksReady(t *testing.T) {
	svc := newTestService(nil)
	if svc.Ready() {
		t.Fatalf("service ready before initialize")
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !svc.Ready() {
		t.Fatalf("service not ready after initialize")
	}
}
