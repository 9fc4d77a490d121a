// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consultation_capture"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsClosed  prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	FramesRejected      *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	PartialsFlushed    prometheus.Counter

	// ASR metrics
	ASRReconnects     prometheus.Counter
	ASRErrors         *prometheus.CounterVec
	ASRReplayedFrames prometheus.Counter

	// Structuring metrics
	StructuringAttempts prometheus.Counter
	StructuringRetries  prometheus.Counter
	StructuringFailed   *prometheus.CounterVec
	StructuringLatency  prometheus.Histogram
	TokensUsed          *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of consultation sessions opened",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active consultation sessions",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed cleanly",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended in FAILED state",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of consultation sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		FramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_rejected_total",
			Help:      "Total audio frames rejected before reaching the recognizer",
		}, []string{"reason"}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcript segments received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcript segments received",
		}),
		PartialsFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_flushed_total",
			Help:      "Partial segments promoted to final at finalize time",
		}),

		ASRReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_reconnects_total",
			Help:      "Total recognizer stream reconnect attempts",
		}),
		ASRErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_errors_total",
			Help:      "Total recognizer errors",
		}, []string{"provider", "error_type"}),
		ASRReplayedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asr_replayed_frames_total",
			Help:      "Audio frames replayed to the recognizer after reconnect",
		}),

		StructuringAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structuring_attempts_total",
			Help:      "Total language-model structuring attempts",
		}),
		StructuringRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structuring_retries_total",
			Help:      "Structuring attempts retried after validation failure",
		}),
		StructuringFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structuring_failed_total",
			Help:      "Structuring calls that exhausted the retry budget",
		}, []string{"code"}),
		StructuringLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "structuring_latency_seconds",
			Help:      "End-to-end latency of one structuring call",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}),
		TokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Language-model tokens consumed by structuring calls",
		}, []string{"kind"}),

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
	}
}

// RecordSessionStart records a new consultation session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(failed bool, reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if failed {
		m.SessionsFailed.WithLabelValues(reason).Inc()
	} else {
		m.SessionsClosed.Inc()
	}
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameRejected records a frame rejected before the recognizer.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordPartialTranscript records a partial segment received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final segment received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordPartialsFlushed records partials promoted at finalize.
func (m *Metrics) RecordPartialsFlushed(n int) {
	m.PartialsFlushed.Add(float64(n))
}

// RecordASRReconnect records a recognizer reconnect attempt and the
// frames replayed on it.
func (m *Metrics) RecordASRReconnect(replayedFrames int) {
	m.ASRReconnects.Inc()
	m.ASRReplayedFrames.Add(float64(replayedFrames))
}

// RecordASRError records a recognizer error.
func (m *Metrics) RecordASRError(provider, errorType string) {
	m.ASRErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordStructuringAttempt records one language-model attempt.
func (m *Metrics) RecordStructuringAttempt(retry bool) {
	m.StructuringAttempts.Inc()
	if retry {
		m.StructuringRetries.Inc()
	}
}

// RecordStructuringResult records the outcome of one structuring call.
func (m *Metrics) RecordStructuringResult(failCode string, latencySeconds float64) {
	m.StructuringLatency.Observe(latencySeconds)
	if failCode != "" {
		m.StructuringFailed.WithLabelValues(failCode).Inc()
	}
}

// RecordTokenUsage records tokens consumed by one structuring call.
func (m *Metrics) RecordTokenUsage(prompt, completion int64) {
	m.TokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.TokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
