package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the web UI
type Metrics struct {
	registry *prometheus.Registry

	// Synthesis metrics
	Syntheses      *prometheus.CounterVec
	SynthesisBytes prometheus.Histogram
	SynthesisTime  prometheus.Histogram

	// Voice management
	Uploads   *prometheus.CounterVec
	Deletions *prometheus.CounterVec

	// Capture and sessions
	CaptureSessions *prometheus.CounterVec
	CaptureDuration prometheus.Histogram
	ActiveSessions  prometheus.Gauge
	WSConnections   prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics on a private registry so several servers
// (tests) can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Syntheses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterbox_syntheses_total",
			Help: "Total number of synthesis requests by outcome",
		}, []string{"mode", "outcome"}),
		SynthesisBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatterbox_synthesis_bytes",
			Help:    "Size of synthesized audio in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),
		SynthesisTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatterbox_synthesis_duration_seconds",
			Help:    "Wall time of synthesis requests",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterbox_voice_uploads_total",
			Help: "Total number of voice uploads by source and outcome",
		}, []string{"source", "outcome"}),
		Deletions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterbox_voice_deletions_total",
			Help: "Total number of voice deletions by outcome",
		}, []string{"outcome"}),

		CaptureSessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterbox_capture_sessions_total",
			Help: "Total number of capture sessions by outcome",
		}, []string{"outcome"}),
		CaptureDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatterbox_capture_duration_seconds",
			Help:    "Duration of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~4 minutes
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatterbox_active_sessions",
			Help: "Current number of browser sessions",
		}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatterbox_websocket_connections",
			Help: "Current number of open WebSocket connections",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatterbox_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatterbox_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry backing /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordSynthesis records one synthesis request
func (m *Metrics) RecordSynthesis(mode string, success bool, bytes int, seconds float64) {
	m.Syntheses.WithLabelValues(mode, outcome(success)).Inc()
	m.SynthesisTime.Observe(seconds)
	if success {
		m.SynthesisBytes.Observe(float64(bytes))
	}
}

// RecordUpload records a voice upload; source is "file", "base64" or "capture"
func (m *Metrics) RecordUpload(source string, success bool) {
	m.Uploads.WithLabelValues(source, outcome(success)).Inc()
}

// RecordDeletion records a voice deletion
func (m *Metrics) RecordDeletion(success bool) {
	m.Deletions.WithLabelValues(outcome(success)).Inc()
}

// RecordCapture records a finished capture session; result is "recorded", "empty", "denied" or "failed"
func (m *Metrics) RecordCapture(result string, seconds float64) {
	m.CaptureSessions.WithLabelValues(result).Inc()
	if result == "recorded" {
		m.CaptureDuration.Observe(seconds)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
