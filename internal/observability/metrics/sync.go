// Package metrics provides Prometheus collectors for the offline subsystem.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics contains Prometheus metrics for sync coordinator operations.
type SyncMetrics struct {
	pushesTotal     *prometheus.CounterVec
	pushDuration    *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	passesTotal     *prometheus.CounterVec
	passDuration    prometheus.Histogram
	inFlightPushes  prometheus.Gauge
	pendingEntities prometheus.Gauge
}

// NewSyncMetrics creates and registers sync metrics with the registry.
func NewSyncMetrics(registry *prometheus.Registry) (*SyncMetrics, error) {
	m := &SyncMetrics{
		pushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafguard_sync_pushes_total",
			Help: "Total entity pushes by entity type and result",
		}, []string{"entity_type", "result"}),
		pushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leafguard_sync_push_duration_seconds",
			Help:    "Duration of individual push attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity_type"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafguard_sync_retries_total",
			Help: "Total push retries by entity type",
		}, []string{"entity_type"}),
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafguard_sync_passes_total",
			Help: "Total sync passes by trigger",
		}, []string{"trigger"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafguard_sync_pass_duration_seconds",
			Help:    "Duration of complete sync passes",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		inFlightPushes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafguard_sync_in_flight_pushes",
			Help: "Number of pushes currently in flight",
		}),
		pendingEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafguard_sync_pending_entities",
			Help: "Number of entities pending sync at the last pass snapshot",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.pushesTotal, m.pushDuration, m.retriesTotal,
		m.passesTotal, m.passDuration, m.inFlightPushes, m.pendingEntities,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPush records one terminal push outcome ("acked", "rejected").
func (m *SyncMetrics) RecordPush(entityType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(entityType, result).Inc()
	m.pushDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordRetry records a scheduled retry.
func (m *SyncMetrics) RecordRetry(entityType string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(entityType).Inc()
}

// RecordPass records a completed sync pass.
func (m *SyncMetrics) RecordPass(trigger string, duration time.Duration) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(trigger).Inc()
	m.passDuration.Observe(duration.Seconds())
}

// SetPending publishes the pending-set size observed at a pass snapshot.
func (m *SyncMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingEntities.Set(float64(n))
}

// PushStarted/PushFinished track in-flight pushes.
func (m *SyncMetrics) PushStarted() {
	if m == nil {
		return
	}
	m.inFlightPushes.Inc()
}

// PushFinished decrements the in-flight gauge.
func (m *SyncMetrics) PushFinished() {
	if m == nil {
		return
	}
	m.inFlightPushes.Dec()
}
