package features

import (
	"fmt"
	"strings"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// DefaultLogWindow is the trailing span of log entries considered relevant.
const DefaultLogWindow = 300 * time.Second

// errorKeywords is the fixed set scanned for in error-level messages.
var errorKeywords = []string{"timeout", "connection", "failed", "exception", "error", "crashed"}

// LogExtractor converts log entries within a trailing window into a numeric
// feature vector. The reference instant is always supplied by the caller so
// extraction stays deterministic.
type LogExtractor struct {
	window time.Duration
}

// NewLogExtractor creates a log feature extractor with the given window.
// A non-positive window falls back to DefaultLogWindow.
func NewLogExtractor(window time.Duration) *LogExtractor {
	if window <= 0 {
		window = DefaultLogWindow
	}
	return &LogExtractor{window: window}
}

// Extract computes level counts, error rate, service spread, and keyword
// frequencies over entries with timestamp >= now-window. An empty filtered
// set yields an empty vector ("no signal"), never an all-zero one.
func (e *LogExtractor) Extract(entries []models.LogEntry, now time.Time) models.FeatureVector {
	if len(entries) == 0 {
		return models.FeatureVector{}
	}

	cutoff := now.Add(-e.window)
	recent := make([]models.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Timestamp.Before(cutoff) {
			recent = append(recent, entry)
		}
	}
	if len(recent) == 0 {
		return models.FeatureVector{}
	}

	feats := make(map[string]float64, 13)

	var errorCount, warnCount, infoCount float64
	serviceCounts := make(map[string]int)
	for _, entry := range recent {
		switch models.LogLevel(strings.ToLower(string(entry.Level))) {
		case models.LevelError:
			errorCount++
		case models.LevelWarn:
			warnCount++
		case models.LevelInfo:
			infoCount++
		}
		serviceCounts[entry.Service]++
	}

	total := float64(len(recent))
	feats["error_count"] = errorCount
	feats["warn_count"] = warnCount
	feats["info_count"] = infoCount
	feats["total_logs"] = total
	if total > 0 {
		feats["error_rate"] = errorCount / total
	} else {
		feats["error_rate"] = 0
	}

	feats["unique_services"] = float64(len(serviceCounts))
	maxPerService := 0
	for _, count := range serviceCounts {
		if count > maxPerService {
			maxPerService = count
		}
	}
	feats["max_service_errors"] = float64(maxPerService)

	keywordCounts := make(map[string]int, len(errorKeywords))
	for _, entry := range recent {
		if models.LogLevel(strings.ToLower(string(entry.Level))) != models.LevelError {
			continue
		}
		message := strings.ToLower(entry.Message)
		for _, kw := range errorKeywords {
			keywordCounts[kw] += strings.Count(message, kw)
		}
	}
	for _, kw := range errorKeywords {
		feats[fmt.Sprintf("keyword_%s", kw)] = float64(keywordCounts[kw])
	}

	return models.NewFeatureVector(feats)
}

// Window exposes the configured trailing window.
func (e *LogExtractor) Window() time.Duration { return e.window }
