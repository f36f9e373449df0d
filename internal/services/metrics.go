package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Recall metrics
	RecallRequests *prometheus.CounterVec // by kind and path (vector/lexical)
	RecallLatency  prometheus.Histogram

	// Degraded-mode events absorbed locally
	Degraded *prometheus.CounterVec

	// Write path
	EventsStored *prometheus.CounterVec

	// Capture sessions
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec // by reason: stop/abort/expired

	// Transcription
	Transcriptions       *prometheus.CounterVec // by outcome
	TranscriptionLatency prometheus.Histogram
}

// NewMetrics registers the application metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecallRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryapi_recall_results_total",
			Help: "Recall category lookups by kind and the path that produced the result",
		}, []string{"kind", "path"}),

		RecallLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "memoryapi_recall_duration_seconds",
			Help:    "Recall latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		Degraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryapi_degraded_total",
			Help: "Operations that continued in degraded mode, by reason",
		}, []string{"reason"}),

		EventsStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryapi_events_stored_total",
			Help: "Memory events stored by kind and whether they carry an embedding",
		}, []string{"kind", "embedded"}),

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "memoryapi_capture_sessions_started_total",
			Help: "Streaming capture sessions started",
		}),

		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryapi_capture_sessions_ended_total",
			Help: "Streaming capture sessions ended, by reason",
		}, []string{"reason"}),

		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memoryapi_transcriptions_total",
			Help: "Transcription requests by outcome",
		}, []string{"outcome"}),

		TranscriptionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "memoryapi_transcription_duration_seconds",
			Help:    "Transcription latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

// RegisterSessionGauges exposes live capture session state
func RegisterSessionGauges(reg prometheus.Registerer, sessions *CaptureSessionService) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memoryapi_capture_sessions_active",
			Help: "Current number of open capture sessions",
		}, func() float64 {
			return float64(sessions.Stats().ActiveSessions)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memoryapi_capture_buffered_bytes",
			Help: "PCM bytes currently buffered across all capture sessions",
		}, func() float64 {
			return float64(sessions.Stats().BufferedBytes)
		}),
	)
}

func (m *Metrics) RecordRecall(kind, path string) {
	if m == nil {
		return
	}
	m.RecallRequests.WithLabelValues(kind, path).Inc()
}

func (m *Metrics) RecordRecallLatency(seconds float64) {
	if m == nil {
		return
	}
	m.RecallLatency.Observe(seconds)
}

func (m *Metrics) RecordDegraded(reason string) {
	if m == nil {
		return
	}
	m.Degraded.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordEventStored(kind string, embedded bool) {
	if m == nil {
		return
	}
	label := "false"
	if embedded {
		label = "true"
	}
	m.EventsStored.WithLabelValues(kind, label).Inc()
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) RecordSessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTranscription(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.TranscriptionLatency.Observe(seconds)
	}
}
