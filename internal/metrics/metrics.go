package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Telemetry ingestion metrics
	TelemetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_telemetry_total",
			Help: "Total number of telemetry messages received",
		},
		[]string{"status"},
	)

	// Ingress queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ingress_queue_depth",
			Help: "Current depth of the ingress queue",
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_detection_in_flight",
			Help: "Number of detection calls currently in flight",
		},
	)

	// Detection metrics
	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_detection_duration_seconds",
			Help:    "Duration of detection service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DetectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_detection_errors_total",
			Help: "Total number of failed detection calls",
		},
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_anomalies_total",
			Help: "Total number of anomalous detections by severity",
		},
		[]string{"severity"},
	)

	// Persistence batcher metrics
	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_flush_duration_seconds",
			Help:    "Duration of batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_flush_batch_size",
			Help:    "Number of records written per flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	FlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_flush_errors_total",
			Help: "Total number of failed batch flushes",
		},
	)

	BufferedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_buffered_records",
			Help: "Detection records staged for the next flush",
		},
	)

	// Network analysis metrics
	AnalysisRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_network_analysis_runs_total",
			Help: "Total number of network analysis calls issued",
		},
	)

	AnalysisErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_network_analysis_errors_total",
			Help: "Total number of failed network analysis calls",
		},
	)

	// Live event metrics
	SubscribersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ws_subscribers",
			Help: "Currently connected live event subscribers",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_published_total",
			Help: "Total live events published by channel",
		},
		[]string{"channel"},
	)

	// Retention metrics
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_retention_deleted_total",
			Help: "Total detection records deleted by retention sweeps",
		},
	)
)
