// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "media_enrichment"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Event metrics
	EventsReceived  prometheus.Counter
	EventsSucceeded prometheus.Counter
	EventsFailed    *prometheus.CounterVec
	EventsSkipped   prometheus.Counter
	EventsInFlight  prometheus.Gauge
	EventDuration   prometheus.Histogram
	StageDuration   *prometheus.HistogramVec

	// Transfer metrics
	BlocksStaged     *prometheus.CounterVec
	BlocksRetried    *prometheus.CounterVec
	BytesUploaded    *prometheus.CounterVec
	CommitsTotal     *prometheus.CounterVec
	TransferFailures *prometheus.CounterVec

	// Extraction metrics
	ExtractionsTotal  prometheus.Counter
	ExtractionsFailed prometheus.Counter

	// Recognition metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	SessionsActive     prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
	RecognitionErrors  *prometheus.CounterVec

	// Caption metrics
	CaptionCues prometheus.Histogram

	// Kafka metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	KafkaFetchErrors    prometheus.Counter

	// gRPC metrics
	GRPCCalls        *prometheus.CounterVec
	GRPCCallDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Event metrics
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of pipeline events received",
		}),
		EventsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_succeeded_total",
			Help:      "Total number of events enriched successfully",
		}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of events dropped after a stage failure",
		}, []string{"stage", "kind"}),
		EventsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Total number of malformed events skipped",
		}),
		EventsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_in_flight",
			Help:      "Number of events currently being enriched",
		}),
		EventDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "End-to-end enrichment duration per event",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage; upload_audio includes the streamed ffmpeg transform",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),

		// Transfer metrics
		BlocksStaged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_staged_total",
			Help:      "Total number of blocks staged",
		}, []string{"container"}),
		BlocksRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_retried_total",
			Help:      "Total number of block stage retries",
		}, []string{"container"}),
		BytesUploaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Total bytes staged to the object store",
		}, []string{"container"}),
		CommitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Total number of committed assets",
		}, []string{"container"}),
		TransferFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_failures_total",
			Help:      "Total number of failed transfers",
		}, []string{"op"}),

		// Extraction metrics
		ExtractionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of audio extractions started",
		}),
		ExtractionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_failed_total",
			Help:      "Total number of audio extractions that failed",
		}),

		// Recognition metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recognition sessions currently open",
		}),
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recognition sessions by terminal state",
		}, []string{"state"}),
		RecognitionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition errors",
		}, []string{"provider", "reason"}),

		// Caption metrics
		CaptionCues: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "caption_cues",
			Help:      "Number of cues per rendered caption file",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),

		// Kafka metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		KafkaFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_fetch_errors_total",
			Help:      "Total number of Kafka fetch errors",
		}),

		// gRPC metrics
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordEventStart records an event entering the pipeline.
func (m *Metrics) RecordEventStart() {
	m.EventsReceived.Inc()
	m.EventsInFlight.Inc()
}

// RecordEventEnd records an event leaving the pipeline.
func (m *Metrics) RecordEventEnd(stage, kind string, durationSeconds float64) {
	m.EventsInFlight.Dec()
	m.EventDuration.Observe(durationSeconds)
	switch kind {
	case "none":
		m.EventsSucceeded.Inc()
	case "malformed":
		m.EventsSkipped.Inc()
	default:
		m.EventsFailed.WithLabelValues(stage, kind).Inc()
	}
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordBlockStaged records a staged block.
func (m *Metrics) RecordBlockStaged(container string, bytes int) {
	m.BlocksStaged.WithLabelValues(container).Inc()
	m.BytesUploaded.WithLabelValues(container).Add(float64(bytes))
}

// RecordBlockRetry records a retried block stage.
func (m *Metrics) RecordBlockRetry(container string) {
	m.BlocksRetried.WithLabelValues(container).Inc()
}

// RecordCommit records a committed asset.
func (m *Metrics) RecordCommit(container string) {
	m.CommitsTotal.WithLabelValues(container).Inc()
}

// RecordTransferFailure records a failed transfer operation.
func (m *Metrics) RecordTransferFailure(op string) {
	m.TransferFailures.WithLabelValues(op).Inc()
}

// RecordExtraction records an extraction outcome.
func (m *Metrics) RecordExtraction(failed bool) {
	m.ExtractionsTotal.Inc()
	if failed {
		m.ExtractionsFailed.Inc()
	}
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordSessionStart records a recognition session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a recognition session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(state string) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(state).Inc()
}

// RecordRecognitionError records a recognition error.
func (m *Metrics) RecordRecognitionError(provider, reason string) {
	m.RecognitionErrors.WithLabelValues(provider, reason).Inc()
}

// RecordCaptionCues records the cue count of a rendered caption file.
func (m *Metrics) RecordCaptionCues(n int) {
	m.CaptionCues.Observe(float64(n))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordKafkaFetchError records a failed fetch from the event topic.
func (m *Metrics) RecordKafkaFetchError() {
	m.KafkaFetchErrors.Inc()
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, durationSeconds float64) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
	m.GRPCCallDuration.WithLabelValues(method).Observe(durationSeconds)
}
