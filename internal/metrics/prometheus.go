package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the upload relay
type Metrics struct {
	// Upload gate metrics
	UploadsAccepted prometheus.Counter
	UploadsRejected *prometheus.CounterVec
	UploadSize      prometheus.Histogram
	ScratchFiles    prometheus.Gauge

	// Transcription relay metrics
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UploadsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_web_uploads_accepted_total",
			Help: "Total number of uploads stored to scratch space",
		}),
		UploadsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_web_uploads_rejected_total",
			Help: "Total number of uploads rejected by the upload gate",
		}, []string{"reason"}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_web_upload_size_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KB to ~256MB
		}),
		ScratchFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_web_scratch_files",
			Help: "Current number of scratch files awaiting release",
		}),

		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_web_transcription_requests_total",
			Help: "Total number of relayed transcription requests by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_web_transcription_duration_seconds",
			Help:    "Duration of relayed transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_web_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_web_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_web_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUploadAccepted records an upload written to scratch space
func (m *Metrics) RecordUploadAccepted(sizeBytes int64) {
	m.UploadsAccepted.Inc()
	m.UploadSize.Observe(float64(sizeBytes))
	m.ScratchFiles.Inc()
}

// RecordUploadRejected records an upload refused by the gate
func (m *Metrics) RecordUploadRejected(reason string) {
	m.UploadsRejected.WithLabelValues(reason).Inc()
}

// RecordScratchReleased decrements the scratch file gauge
func (m *Metrics) RecordScratchReleased() {
	m.ScratchFiles.Dec()
}

// RecordTranscription records a relay attempt and its outcome
func (m *Metrics) RecordTranscription(outcome string, durationSeconds float64) {
	m.TranscriptionRequests.WithLabelValues(outcome).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
