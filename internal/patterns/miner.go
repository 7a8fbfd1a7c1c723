package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.FailurePattern) error
}

// Miner mines frequency-based failure patterns from verdict history.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine aggregates detected failure verdicts by failure type and returns
// patterns sorted by prevalence.
func (m *Miner) Mine(ctx context.Context, records []models.VerdictRecord) ([]models.FailurePattern, error) {
	detected := 0
	typeStats := make(map[string]*typeAggregate)
	for _, rec := range records {
		if rec.Kind != models.VerdictFailure || !rec.Detected {
			continue
		}
		detected++

		key := rec.FailureType
		if key == "" {
			key = "unknown"
		}
		agg, ok := typeStats[key]
		if !ok {
			agg = &typeAggregate{
				severityCounts: make(map[models.Severity]int),
				actionCounts:   make(map[models.RemediationAction]int),
			}
			typeStats[key] = agg
		}
		agg.count++
		agg.confidenceSum += rec.Confidence
		agg.severityCounts[rec.Severity]++
		agg.actionCounts[rec.Action]++
		if rec.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = rec.CreatedAt
		}
	}
	if detected == 0 {
		return nil, nil
	}

	patterns := make([]models.FailurePattern, 0, len(typeStats))
	for failureType, agg := range typeStats {
		patterns = append(patterns, models.FailurePattern{
			FailureType:   failureType,
			Occurrences:   agg.count,
			Prevalence:    float64(agg.count) / float64(detected),
			AvgConfidence: agg.confidenceSum / float64(agg.count),
			TopSeverity:   agg.topSeverity(),
			TopAction:     agg.topAction(),
			LastSeen:      agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].FailureType < patterns[j].FailureType
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type typeAggregate struct {
	count          int
	confidenceSum  float64
	lastSeen       time.Time
	severityCounts map[models.Severity]int
	actionCounts   map[models.RemediationAction]int
}

// severityRank orders severities so ties go to the higher impact level.
var severityRank = map[models.Severity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

func (agg *typeAggregate) topSeverity() models.Severity {
	best := models.SeverityLow
	bestCount := -1
	for sev, count := range agg.severityCounts {
		if count > bestCount || (count == bestCount && severityRank[sev] > severityRank[best]) {
			best = sev
			bestCount = count
		}
	}
	return best
}

func (agg *typeAggregate) topAction() models.RemediationAction {
	best := models.ActionNoAction
	bestCount := -1
	for action, count := range agg.actionCounts {
		if count > bestCount || (count == bestCount && string(action) < string(best)) {
			best = action
			bestCount = count
		}
	}
	return best
}
