package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "decision",
			Name:      "evaluations_total",
			Help:      "Total number of decision evaluations by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	decisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "decision",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of decision evaluations by path",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

// DecisionMetrics records decision-router activity. Nil-safe like SyncMetrics.
type DecisionMetrics struct{}

func NewDecisionMetrics() *DecisionMetrics {
	return &DecisionMetrics{}
}

// Register registers all decision metrics with the provided registry.
func (dm *DecisionMetrics) Register(registry *Registry) {
	registry.MustRegister(
		decisionsTotal,
		decisionDuration,
	)
}

func (dm *DecisionMetrics) RecordEvaluation(path, outcome string, duration time.Duration) {
	if dm == nil {
		return
	}
	decisionsTotal.WithLabelValues(path, outcome).Inc()
	decisionDuration.WithLabelValues(path).Observe(duration.Seconds())
}
