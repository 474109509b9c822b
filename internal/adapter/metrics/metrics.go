package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds all Prometheus metrics for the processing engine.
type EngineMetrics struct {
	RecordsTotal       *prometheus.CounterVec
	TierTotal          *prometheus.CounterVec
	SinkPublishTotal   *prometheus.CounterVec
	SinkDroppedTotal   *prometheus.CounterVec
	DeadLettersTotal   *prometheus.CounterVec
	DeadLettersDropped prometheus.Counter
	LateEventsDropped  prometheus.Counter
	OpenWindows        prometheus.Gauge
	WindowsEvicted     prometheus.Counter
	WALActive          prometheus.Gauge
	ProcessingDuration prometheus.Histogram
}

// NewEngineMetrics initializes and registers the Prometheus metrics.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		RecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of records by outcome.",
		}, []string{"status"}), // status: processed, error_decode, error_validation, enrich_failed, late_dropped
		TierTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "pipeline",
			Name:      "tier_total",
			Help:      "Total number of classified records by risk tier.",
		}, []string{"tier"}),
		SinkPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "sink",
			Name:      "publish_total",
			Help:      "Total number of sink publishes by channel and status.",
		}, []string{"channel", "status"}),
		SinkDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Total number of deliveries dropped after exhausting retries.",
		}, []string{"channel"}),
		DeadLettersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "deadletter",
			Name:      "records_total",
			Help:      "Total number of dead-letter records by failure category.",
		}, []string{"category"}),
		DeadLettersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "deadletter",
			Name:      "dropped_total",
			Help:      "Total number of dead-letter records dropped due to a full buffer.",
		}),
		LateEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "aggregate",
			Name:      "late_events_dropped_total",
			Help:      "Total number of events discarded by the late-event policy.",
		}),
		OpenWindows: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "txn_engine",
			Subsystem: "aggregate",
			Name:      "open_windows_gauge",
			Help:      "Current number of retained (key, window) aggregate entries.",
		}),
		WindowsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "txn_engine",
			Subsystem: "aggregate",
			Name:      "windows_evicted_total",
			Help:      "Total number of aggregate entries removed by the retention sweep.",
		}),
		WALActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "txn_engine",
			Subsystem: "deadletter",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the dead-letter WAL fallback is currently active (1 for active, 0 for inactive).",
		}),
		ProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txn_engine",
			Subsystem: "pipeline",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end per-record processing latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
