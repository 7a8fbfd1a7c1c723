package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

func openTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := OpenHistory(filepath.Join(t.TempDir(), "verdicts.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHistoryAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := openTestHistory(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []models.VerdictRecord{
		{ID: "a1", Kind: models.VerdictAnomaly, Detected: true, Score: 0.92, Severity: models.SeverityCritical,
			Action: models.ActionAlertAdmin, Confidence: 0.9, CreatedAt: base},
		{ID: "a2", Kind: models.VerdictAnomaly, Detected: false, Score: 0.1, Severity: models.SeverityLow,
			Action: models.ActionNoAction, Confidence: 0.95, CreatedAt: base.Add(time.Minute)},
		{ID: "f1", Kind: models.VerdictFailure, Detected: true, Score: 0.88, Severity: models.SeverityHigh,
			Action: models.ActionRestartPod, FailureType: "high_error_rate", Confidence: 0.8, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append %s: %v", rec.ID, err)
		}
	}

	all, err := store.Query(ctx, models.VerdictFilter{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("query all = %d records, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "f1" {
		t.Fatalf("first record = %s, want f1", all[0].ID)
	}

	anomalies, err := store.Query(ctx, models.VerdictFilter{Kind: models.VerdictAnomaly, OnlyDetected: true})
	if err != nil {
		t.Fatalf("query anomalies: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].ID != "a1" {
		t.Fatalf("detected anomalies = %+v", anomalies)
	}
	if anomalies[0].Severity != models.SeverityCritical || anomalies[0].Action != models.ActionAlertAdmin {
		t.Fatalf("round trip lost fields: %+v", anomalies[0])
	}

	recent, err := store.Query(ctx, models.VerdictFilter{Since: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("query since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "f1" {
		t.Fatalf("since filter = %+v", recent)
	}

	limited, err := store.Query(ctx, models.VerdictFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit = %d records, want 2", len(limited))
	}
}

func TestHistoryStats(t *testing.T) {
	ctx := context.Background()
	store := openTestHistory(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []models.VerdictRecord{
		{ID: "a1", Kind: models.VerdictAnomaly, Detected: true, Score: 0.8, Severity: models.SeverityHigh, Action: models.ActionScaleUp, Confidence: 0.9, CreatedAt: base},
		{ID: "a2", Kind: models.VerdictAnomaly, Detected: false, Score: 0.2, Severity: models.SeverityLow, Action: models.ActionNoAction, Confidence: 0.9, CreatedAt: base},
		{ID: "f1", Kind: models.VerdictFailure, Detected: true, Score: 0.9, Severity: models.SeverityHigh, Action: models.ActionRestartPod, Confidence: 0.8, CreatedAt: base},
	}
	for _, rec := range seed {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalVerdicts != 3 || stats.AnomaliesFlagged != 1 || stats.FailuresFlagged != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgAnomalyScore < 0.49 || stats.AvgAnomalyScore > 0.51 {
		t.Fatalf("avg anomaly score = %v, want 0.5", stats.AvgAnomalyScore)
	}
}

func TestHistoryTrainingRows(t *testing.T) {
	ctx := context.Background()
	store := openTestHistory(t)

	for i := 0; i < 3; i++ {
		row := []float64{float64(i), float64(i) * 2}
		if err := store.RecordTrainingRow(ctx, models.VerdictAnomaly, row, nil); err != nil {
			t.Fatalf("record anomaly row: %v", err)
		}
	}
	label := 1
	if err := store.RecordTrainingRow(ctx, models.VerdictFailure, []float64{9, 9}, &label); err != nil {
		t.Fatalf("record failure row: %v", err)
	}

	rows, err := store.AnomalyTrainingRows(ctx)
	if err != nil {
		t.Fatalf("anomaly rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("anomaly rows = %d, want 3", len(rows))
	}
	// Newest first.
	if rows[0][0] != 2 || rows[0][1] != 4 {
		t.Fatalf("first row = %v, want [2 4]", rows[0])
	}

	frows, labels, err := store.FailureTrainingSet(ctx)
	if err != nil {
		t.Fatalf("failure set: %v", err)
	}
	if len(frows) != 1 || len(labels) != 1 || labels[0] != 1 {
		t.Fatalf("failure set = %v labels %v", frows, labels)
	}
}

func TestTrainingRowsKeepDominantDimension(t *testing.T) {
	ctx := context.Background()
	store := openTestHistory(t)

	for i := 0; i < 4; i++ {
		row := []float64{float64(i), float64(i) * 2}
		if err := store.RecordTrainingRow(ctx, models.VerdictAnomaly, row, nil); err != nil {
			t.Fatalf("record anomaly row: %v", err)
		}
	}
	// One request carried an extra metric type, widening its row.
	if err := store.RecordTrainingRow(ctx, models.VerdictAnomaly, []float64{9, 9, 9}, nil); err != nil {
		t.Fatalf("record wide row: %v", err)
	}

	rows, err := store.AnomalyTrainingRows(ctx)
	if err != nil {
		t.Fatalf("anomaly rows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("anomaly rows = %d, want the 4 two-feature rows", len(rows))
	}
	for _, row := range rows {
		if len(row) != 2 {
			t.Fatalf("row %v survived the dimension filter", row)
		}
	}

	label0, label1 := 0, 1
	if err := store.RecordTrainingRow(ctx, models.VerdictFailure, []float64{1, 2}, &label0); err != nil {
		t.Fatalf("record failure row: %v", err)
	}
	if err := store.RecordTrainingRow(ctx, models.VerdictFailure, []float64{3, 4}, &label1); err != nil {
		t.Fatalf("record failure row: %v", err)
	}
	if err := store.RecordTrainingRow(ctx, models.VerdictFailure, []float64{5, 6, 7}, &label1); err != nil {
		t.Fatalf("record wide failure row: %v", err)
	}

	frows, labels, err := store.FailureTrainingSet(ctx)
	if err != nil {
		t.Fatalf("failure set: %v", err)
	}
	if len(frows) != 2 || len(labels) != 2 {
		t.Fatalf("failure set = %v labels %v, want the 2 two-feature rows", frows, labels)
	}
	// Newest first: [3 4] carries label 1, [1 2] label 0.
	if labels[0] != 1 || labels[1] != 0 {
		t.Fatalf("labels = %v, misaligned after filtering", labels)
	}
}

func TestHistoryPrune(t *testing.T) {
	ctx := context.Background()
	store := openTestHistory(t)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seed := []models.VerdictRecord{
		{ID: "old", Kind: models.VerdictAnomaly, Severity: models.SeverityLow, Action: models.ActionNoAction, CreatedAt: old},
		{ID: "new", Kind: models.VerdictAnomaly, Severity: models.SeverityLow, Action: models.ActionNoAction, CreatedAt: recent},
	}
	for _, rec := range seed {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := store.Prune(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("prune: %v", err)
	}

	remaining, err := store.Query(ctx, models.VerdictFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "new" {
		t.Fatalf("remaining = %+v", remaining)
	}
}
