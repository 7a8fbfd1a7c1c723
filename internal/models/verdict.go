package models

import "time"

// Severity captures verdict impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RemediationAction enumerates the operational responses a verdict can
// recommend to the self-healing loop.
type RemediationAction string

const (
	ActionScaleUp     RemediationAction = "scale_up"
	ActionScaleDown   RemediationAction = "scale_down"
	ActionRestartPod  RemediationAction = "restart_pod"
	ActionThrottleAPI RemediationAction = "throttle_api"
	ActionClearCache  RemediationAction = "clear_cache"
	ActionAlertAdmin  RemediationAction = "alert_admin"
	ActionNoAction    RemediationAction = "no_action"
)

// AnomalyResult is the verdict produced for a batch of metric samples.
type AnomalyResult struct {
	IsAnomaly         bool              `json:"is_anomaly"`
	AnomalyScore      float64           `json:"anomaly_score"`
	Severity          Severity          `json:"severity"`
	RecommendedAction RemediationAction `json:"recommended_action"`
	Confidence        float64           `json:"confidence"`
	AffectedMetrics   []string          `json:"affected_metrics"`
	Details           map[string]any    `json:"details"`
	Timestamp         time.Time         `json:"timestamp"`
}

// FailureResult is the verdict produced for a combined metric+log window.
type FailureResult struct {
	FailureDetected    bool                `json:"failure_detected"`
	FailureType        string              `json:"failure_type,omitempty"`
	Severity           Severity            `json:"severity"`
	RecommendedActions []RemediationAction `json:"recommended_actions"`
	Confidence         float64             `json:"confidence"`
	RootCause          string              `json:"root_cause,omitempty"`
	AffectedServices   []string            `json:"affected_services"`
	Details            map[string]any      `json:"details"`
	Timestamp          time.Time           `json:"timestamp"`
}

// VerdictKind distinguishes stored verdict records.
type VerdictKind string

const (
	VerdictAnomaly VerdictKind = "anomaly"
	VerdictFailure VerdictKind = "failure"
)

// VerdictRecord is the persisted form of a detection verdict, consumed by the
// history store and the reporting endpoints.
type VerdictRecord struct {
	ID          string            `json:"id"`
	Kind        VerdictKind       `json:"kind"`
	Detected    bool              `json:"detected"`
	Score       float64           `json:"score"`
	Severity    Severity          `json:"severity"`
	Action      RemediationAction `json:"recommended_action"`
	FailureType string            `json:"failure_type,omitempty"`
	Confidence  float64           `json:"confidence"`
	CreatedAt   time.Time         `json:"created_at"`
}

// VerdictFilter narrows history queries.
type VerdictFilter struct {
	Kind         VerdictKind
	Since        time.Time
	OnlyDetected bool
	Limit        int
}
