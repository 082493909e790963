package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics holds all Prometheus metrics for the ingestion pipeline.
type PromMetrics struct {
	// Entry metrics
	EntriesTotal       *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram

	// Queue metrics
	QueueDepth    prometheus.Gauge
	QueuePressure prometheus.Gauge

	// Parse metrics
	EventsParsed *prometheus.CounterVec

	// Validation metrics
	ValidationVerdicts *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Broadcast metrics
	BroadcastsTotal *prometheus.CounterVec

	// Fault metrics
	FaultsTotal *prometheus.CounterVec
}

// NewPromMetrics creates and registers all Prometheus metrics against the
// given registerer.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		EntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglane_entries_total",
				Help: "Total log entries by terminal status",
			},
			[]string{"status"}, // completed, failed, dead, retried
		),

		ProcessingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loglane_processing_duration_seconds",
				Help:    "End-to-end processing duration per entry",
				Buckets: prometheus.DefBuckets,
			},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglane_queue_depth",
				Help: "Entries currently pending in the ingestion queue",
			},
		),

		QueuePressure: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglane_queue_pressure",
				Help: "Queue pressure ratio, pending over capacity",
			},
		),

		EventsParsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglane_events_parsed_total",
				Help: "Parsed events by parsing method",
			},
			[]string{"method"}, // learned, detected, static, fallback
		),

		ValidationVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglane_validation_verdicts_total",
				Help: "Validation verdicts by outcome",
			},
			[]string{"verdict"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglane_notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"}, // sent, failed, throttled
		),

		BroadcastsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglane_broadcasts_total",
				Help: "Broadcast messages by type",
			},
			[]string{"type"},
		),

		FaultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglane_faults_total",
				Help: "Pipeline faults by kind and severity",
			},
			[]string{"kind", "severity"},
		),
	}
}
