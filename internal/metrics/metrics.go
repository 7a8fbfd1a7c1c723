package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// KindAnomaly labels anomaly evaluations.
	KindAnomaly = "anomaly"
	// KindFailure labels failure evaluations.
	KindFailure = "failure"

	// OutcomeDetected labels evaluations that produced a positive verdict.
	OutcomeDetected = "detected"
	// OutcomeClear labels evaluations that found nothing.
	OutcomeClear = "clear"
	// OutcomeDegraded labels evaluations that fell back to a default verdict.
	OutcomeDegraded = "degraded"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis_detect",
			Name:      "evaluations_total",
			Help:      "Total number of detection evaluations, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aegis_detect",
			Name:      "evaluation_seconds",
			Help:      "Detection evaluation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"kind"},
	)

	modelTrained = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "aegis_detect",
			Name:      "model_trained",
			Help:      "Whether a detector model is trained (1) or running on defaults (0).",
		},
		[]string{"model"},
	)

	actionsRecommended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aegis_detect",
			Name:      "actions_recommended_total",
			Help:      "Remediation actions recommended by verdicts.",
		},
		[]string{"action"},
	)
)

// Register attaches the engine's collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		modelTrained,
		actionsRecommended,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records a detection evaluation duration and outcome.
func ObserveEvaluation(kind string, duration time.Duration, outcome string) {
	evaluationsTotal.WithLabelValues(kind, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetModelTrained reflects detector training state on the trained gauge.
func SetModelTrained(model string, trained bool) {
	v := 0.0
	if trained {
		v = 1.0
	}
	modelTrained.WithLabelValues(model).Set(v)
}

// CountAction increments the recommended-action counter.
func CountAction(action string) {
	actionsRecommended.WithLabelValues(action).Inc()
}
