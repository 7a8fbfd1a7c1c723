package models

import "time"

// FailurePattern aggregates historical verdicts of one failure type for
// reporting.
type FailurePattern struct {
	FailureType   string            `json:"failure_type"`
	Occurrences   int               `json:"occurrences"`
	Prevalence    float64           `json:"prevalence"`
	AvgConfidence float64           `json:"avg_confidence"`
	TopSeverity   Severity          `json:"top_severity"`
	TopAction     RemediationAction `json:"top_action"`
	LastSeen      time.Time         `json:"last_seen"`
}
