package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capture agent.
var (
	CaptureCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_capture_cycles_total",
			Help: "Capture cycles by outcome",
		},
		[]string{"result"},
	)

	CaptureActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emotion_capture_active",
			Help: "1 while a camera stream and capture timer are held",
		},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_capture_submissions_total",
			Help: "Frame submissions by response status",
		},
		[]string{"status"},
	)

	CameraConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emotion_capture_camera_connected",
			Help: "1 while the camera delivers frames",
		},
	)

	CameraConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emotion_capture_camera_consecutive_failures",
			Help: "Frame reads failed in a row",
		},
	)

	LastSuccessfulCapture = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emotion_capture_last_success_timestamp_seconds",
			Help: "Unix time of the last frame read",
		},
	)

	SubmitLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emotion_capture_submit_latency_seconds",
			Help:    "Round trip of a frame submission",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	SubmissionSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emotion_capture_submission_size_bytes",
			Help:    "Encoded submission body size",
			Buckets: []float64{1024, 5120, 10240, 20480, 51200, 102400, 512000},
		},
	)
)

// Analysis server.
var (
	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_analysis_requests_total",
			Help: "Analysis requests by response status",
		},
		[]string{"status"},
	)

	DominantEmotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_analysis_dominant_total",
			Help: "Dominant emotion of successful analyses",
		},
		[]string{"emotion", "role"},
	)

	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emotion_analysis_latency_seconds",
			Help:    "Face detection plus classification time",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emotion_worker_pool_queue_size",
			Help: "Jobs waiting in the worker pool",
		},
		[]string{"pool_name"},
	)

	WorkerPoolProcessing = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emotion_worker_pool_processing",
			Help: "Jobs being processed",
		},
		[]string{"pool_name"},
	)

	JobsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_jobs_dropped_total",
			Help: "Post-analysis jobs not queued",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emotion_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker_name"},
	)

	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_storage_operations_total",
			Help: "Frame archive and log operations",
		},
		[]string{"operation", "status"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_events_published_total",
			Help: "Analysis events by sink and status",
		},
		[]string{"sink", "status"},
	)

	PublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emotion_events_publish_latency_seconds",
			Help:    "Event publish latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"sink"},
	)

	WebsocketClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "emotion_websocket_clients",
			Help: "Connected dashboard websocket clients",
		},
		[]string{"hub"},
	)
)
