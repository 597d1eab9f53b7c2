package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry pipeline metrics, served on /metrics.
var (
	// Ingestion metrics
	MetricPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_metric_points_total",
			Help: "Total number of metric points recorded, by engine",
		},
		[]string{"engine"},
	)

	WindowSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prometheus_core_window_points",
			Help: "Number of metric points retained in the trailing window",
		},
		[]string{"engine"},
	)

	// Anomaly metrics
	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_anomalies_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"source", "type", "severity"},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_predictions_total",
			Help: "Total number of model predictions recomputed",
		},
		[]string{"model"},
	)

	// Automation metrics
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_rule_evaluations_total",
			Help: "Total number of automation rule evaluations",
		},
		[]string{"rule", "result"}, // result: triggered/idle/error
	)

	ResponseExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_response_executions_total",
			Help: "Total number of automated response executions",
		},
		[]string{"response", "outcome"}, // outcome: success/failure/skipped
	)

	ResponseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prometheus_core_response_duration_seconds",
			Help:    "Automated response execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"response"},
	)

	// Provider metrics
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_provider_attempts_total",
			Help: "Total number of provider attempts during fallback execution",
		},
		[]string{"provider", "outcome"}, // outcome: success/error/skipped_quota/skipped_disabled
	)

	ProviderExhaustionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prometheus_core_provider_exhaustions_total",
			Help: "Total number of tasks for which every provider was skipped or failed",
		},
	)

	ProviderQuotaUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prometheus_core_provider_quota_usage_ratio",
			Help: "Requests used divided by the provider's daily limit",
		},
		[]string{"provider"},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_notifications_total",
			Help: "Total number of notifications added",
		},
		[]string{"severity", "category"},
	)

	SubscriberErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prometheus_core_subscriber_errors_total",
			Help: "Total number of notification subscriber failures",
		},
	)

	// Transport metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prometheus_core_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	WebSocketDroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prometheus_core_websocket_dropped_frames_total",
			Help: "Total number of frames dropped for slow WebSocket clients",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prometheus_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	StreamSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prometheus_core_stream_samples_total",
			Help: "Total number of samples emitted by the metrics streamer",
		},
		[]string{"status"}, // status: ok/sampler_error
	)
)
