package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "publishes_total",
			Help:      "Total number of policy publish calls by namespace",
		},
		[]string{"namespace"},
	)

	syncDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "deletes_total",
			Help:      "Total number of policy delete calls by namespace",
		},
		[]string{"namespace"},
	)

	syncSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "skips_total",
			Help:      "Total number of unchanged policies skipped by namespace",
		},
		[]string{"namespace"},
	)

	syncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "errors_total",
			Help:      "Total number of per-policy sync failures by namespace",
		},
		[]string{"namespace"},
	)

	syncPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes by namespace",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)

	syncPolicyCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "policy_count",
			Help:      "Number of policies currently believed published by namespace",
		},
		[]string{"namespace"},
	)

	syncLastPassTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "sync",
			Name:      "last_pass_timestamp",
			Help:      "Unix timestamp of the last completed reconciliation pass",
		},
	)
)

// SyncMetrics records reconciliation activity. A nil receiver disables
// collection, so tests can pass nil.
type SyncMetrics struct{}

func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{}
}

// Register registers all sync metrics with the provided registry.
func (sm *SyncMetrics) Register(registry *Registry) {
	registry.MustRegister(
		syncPublishesTotal,
		syncDeletesTotal,
		syncSkipsTotal,
		syncErrorsTotal,
		syncPassDuration,
		syncPolicyCount,
		syncLastPassTimestamp,
	)
}

func (sm *SyncMetrics) RecordPublish(namespace string) {
	if sm == nil {
		return
	}
	syncPublishesTotal.WithLabelValues(namespace).Inc()
}

func (sm *SyncMetrics) RecordDelete(namespace string) {
	if sm == nil {
		return
	}
	syncDeletesTotal.WithLabelValues(namespace).Inc()
}

func (sm *SyncMetrics) RecordSkip(namespace string) {
	if sm == nil {
		return
	}
	syncSkipsTotal.WithLabelValues(namespace).Inc()
}

func (sm *SyncMetrics) RecordError(namespace string) {
	if sm == nil {
		return
	}
	syncErrorsTotal.WithLabelValues(namespace).Inc()
}

func (sm *SyncMetrics) RecordPass(namespace string, duration time.Duration, policyCount int) {
	if sm == nil {
		return
	}
	syncPassDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	syncPolicyCount.WithLabelValues(namespace).Set(float64(policyCount))
	syncLastPassTimestamp.SetToCurrentTime()
}
