package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics contains Prometheus metrics for local store operations.
type StoreMetrics struct {
	savesTotal     *prometheus.CounterVec
	quotaRejects   prometheus.Counter
	corruptSkipped prometheus.Counter
	usageBytes     *prometheus.GaugeVec
	usageCount     *prometheus.GaugeVec
}

// NewStoreMetrics creates and registers store metrics with the registry.
func NewStoreMetrics(registry *prometheus.Registry) (*StoreMetrics, error) {
	m := &StoreMetrics{
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafguard_store_saves_total",
			Help: "Total save operations by entity type and result",
		}, []string{"entity_type", "result"}),
		quotaRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafguard_store_quota_rejections_total",
			Help: "Total writes rejected because the storage quota was exceeded",
		}),
		corruptSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafguard_store_corrupt_records_total",
			Help: "Total corrupt records skipped during enumeration",
		}),
		usageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leafguard_store_usage_bytes",
			Help: "Storage usage in bytes by entity category",
		}, []string{"category"}),
		usageCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leafguard_store_usage_records",
			Help: "Stored record count by entity category",
		}, []string{"category"}),
	}

	for _, c := range []prometheus.Collector{
		m.savesTotal, m.quotaRejects, m.corruptSkipped, m.usageBytes, m.usageCount,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordSave records a save operation outcome ("ok", "quota", "error").
func (m *StoreMetrics) RecordSave(entityType, result string) {
	if m == nil {
		return
	}
	m.savesTotal.WithLabelValues(entityType, result).Inc()
	if result == "quota" {
		m.quotaRejects.Inc()
	}
}

// RecordCorruptSkipped records a corrupt record skipped during a read.
func (m *StoreMetrics) RecordCorruptSkipped() {
	if m == nil {
		return
	}
	m.corruptSkipped.Inc()
}

// SetUsage publishes usage figures for one category.
func (m *StoreMetrics) SetUsage(category string, bytes int64, count int64) {
	if m == nil {
		return
	}
	m.usageBytes.WithLabelValues(category).Set(float64(bytes))
	m.usageCount.WithLabelValues(category).Set(float64(count))
}
