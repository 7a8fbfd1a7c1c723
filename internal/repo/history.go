package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// maxBootstrapRows caps how much history a retrain pulls in.
const maxBootstrapRows = 512

const historySchema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	detected     INTEGER NOT NULL,
	score        REAL NOT NULL,
	severity     TEXT NOT NULL,
	action       TEXT NOT NULL,
	failure_type TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_kind_created ON verdicts (kind, created_at);

CREATE TABLE IF NOT EXISTS training_rows (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	features   TEXT NOT NULL,
	label      INTEGER,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_training_rows_kind ON training_rows (kind, id);
`

// HistoryStore persists detection verdicts and the feature rows used to
// retrain the detectors. Backed by SQLite so a single engine instance keeps
// its history across restarts without an external database.
type HistoryStore struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the verdict database at path.
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *HistoryStore) Close() error { return s.db.Close() }

// Append stores one verdict record.
func (s *HistoryStore) Append(ctx context.Context, rec models.VerdictRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (id, kind, detected, score, severity, action, failure_type, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), boolToInt(rec.Detected), rec.Score, string(rec.Severity),
		string(rec.Action), rec.FailureType, rec.Confidence, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append verdict: %w", err)
	}
	return nil
}

// Query returns verdicts matching the filter, newest first.
func (s *HistoryStore) Query(ctx context.Context, filter models.VerdictFilter) ([]models.VerdictRecord, error) {
	query := `SELECT id, kind, detected, score, severity, action, failure_type, confidence, created_at
		  FROM verdicts WHERE 1=1`
	args := make([]any, 0, 4)

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.OnlyDetected {
		query += " AND detected = 1"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	records := make([]models.VerdictRecord, 0, 16)
	for rows.Next() {
		var (
			rec      models.VerdictRecord
			kind     string
			detected int
			severity string
			action   string
		)
		if err := rows.Scan(&rec.ID, &kind, &detected, &rec.Score, &severity, &action,
			&rec.FailureType, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		rec.Kind = models.VerdictKind(kind)
		rec.Detected = detected == 1
		rec.Severity = models.Severity(severity)
		rec.Action = models.RemediationAction(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HistoryStats summarises stored verdicts for the reporting endpoint.
type HistoryStats struct {
	TotalVerdicts    int     `json:"total_verdicts"`
	AnomaliesFlagged int     `json:"anomalies_flagged"`
	FailuresFlagged  int     `json:"failures_flagged"`
	AvgAnomalyScore  float64 `json:"avg_anomaly_score"`
}

// Stats aggregates verdict counts and the mean anomaly score.
func (s *HistoryStore) Stats(ctx context.Context) (HistoryStats, error) {
	var stats HistoryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN kind = 'anomaly' AND detected = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN kind = 'failure' AND detected = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(CASE WHEN kind = 'anomaly' THEN score END), 0)
		FROM verdicts`).
		Scan(&stats.TotalVerdicts, &stats.AnomaliesFlagged, &stats.FailuresFlagged, &stats.AvgAnomalyScore)
	if err != nil {
		return HistoryStats{}, fmt.Errorf("verdict stats: %w", err)
	}
	return stats, nil
}

// Prune deletes verdicts and training rows older than the cutoff.
func (s *HistoryStore) Prune(ctx context.Context, olderThan time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE created_at < ?`, olderThan.UTC()); err != nil {
		return fmt.Errorf("prune verdicts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM training_rows WHERE created_at < ?`, olderThan.UTC()); err != nil {
		return fmt.Errorf("prune training rows: %w", err)
	}
	return nil
}

// RecordTrainingRow stores a feature row for later retraining. label is nil
// for unlabeled anomaly rows.
func (s *HistoryStore) RecordTrainingRow(ctx context.Context, kind models.VerdictKind, features []float64, label *int) error {
	data, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	var labelValue any
	if label != nil {
		labelValue = *label
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO training_rows (kind, features, label, created_at) VALUES (?, ?, ?, ?)`,
		string(kind), string(data), labelValue, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record training row: %w", err)
	}
	return nil
}

// AnomalyTrainingRows returns the most recent unlabeled feature rows for
// scorer training. Rows are filtered to the dominant feature dimension:
// requests carrying different metric-type sets produce rows of different
// widths, and a single odd row must not block every retrain.
func (s *HistoryStore) AnomalyTrainingRows(ctx context.Context) ([][]float64, error) {
	rows, err := s.trainingRows(ctx, `SELECT features FROM training_rows WHERE kind = ? ORDER BY id DESC LIMIT ?`,
		string(models.VerdictAnomaly), maxBootstrapRows)
	if err != nil {
		return nil, err
	}
	return dominantRows(rows), nil
}

// FailureTrainingSet returns labeled feature rows for classifier training.
func (s *HistoryStore) FailureTrainingSet(ctx context.Context) ([][]float64, []int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT features, label FROM training_rows WHERE kind = ? AND label IS NOT NULL ORDER BY id DESC LIMIT ?`,
		string(models.VerdictFailure), maxBootstrapRows)
	if err != nil {
		return nil, nil, fmt.Errorf("query failure training set: %w", err)
	}
	defer rows.Close()

	features := make([][]float64, 0, 64)
	labels := make([]int, 0, 64)
	for rows.Next() {
		var (
			data  string
			label int
		)
		if err := rows.Scan(&data, &label); err != nil {
			return nil, nil, fmt.Errorf("scan training row: %w", err)
		}
		var row []float64
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			continue
		}
		features = append(features, row)
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	features, labels = dominantLabeledRows(features, labels)
	return features, labels, nil
}

func (s *HistoryStore) trainingRows(ctx context.Context, query string, args ...any) ([][]float64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query training rows: %w", err)
	}
	defer rows.Close()

	out := make([][]float64, 0, 64)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan training row: %w", err)
		}
		var row []float64
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// dominantRows keeps only the rows whose feature dimension is the most
// common one. Ties resolve to the dimension seen first, which is the most
// recent row since callers order newest first.
func dominantRows(rows [][]float64) [][]float64 {
	dim, ok := dominantDimension(rows)
	if !ok {
		return rows
	}
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) == dim {
			out = append(out, row)
		}
	}
	return out
}

// dominantLabeledRows applies the same dimension filter while keeping the
// label slice aligned.
func dominantLabeledRows(rows [][]float64, labels []int) ([][]float64, []int) {
	dim, ok := dominantDimension(rows)
	if !ok {
		return rows, labels
	}
	outRows := make([][]float64, 0, len(rows))
	outLabels := make([]int, 0, len(labels))
	for i, row := range rows {
		if len(row) == dim {
			outRows = append(outRows, row)
			outLabels = append(outLabels, labels[i])
		}
	}
	return outRows, outLabels
}

func dominantDimension(rows [][]float64) (int, bool) {
	if len(rows) == 0 {
		return 0, false
	}
	counts := make(map[int]int, 4)
	for _, row := range rows {
		counts[len(row)]++
	}
	best := len(rows[0])
	for _, row := range rows {
		if counts[len(row)] > counts[best] {
			best = len(row)
		}
	}
	return best, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
