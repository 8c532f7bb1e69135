package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	CallFailures      *prometheus.CounterVec
	ChunkUploads      *prometheus.CounterVec
	ChunkUploadErrors *prometheus.CounterVec
	UploadLatency     prometheus.Histogram
	PollTicks         prometheus.Counter
	ProcessingWait    prometheus.Histogram
	DriftCorrections  prometheus.Counter
	WSMessages        *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of call sessions currently in a non-terminal state.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		CallFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_failures_total",
			Help:      "Failed call attempts by reason.",
		}, []string{"reason"}),
		ChunkUploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_uploads_total",
			Help:      "Recording chunk uploads by kind.",
		}, []string{"kind"}),
		ChunkUploadErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_upload_errors_total",
			Help:      "Recording chunk upload failures by kind.",
		}, []string{"kind"}),
		UploadLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_ms",
			Help:      "Chunk upload round-trip latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		PollTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_poll_ticks_total",
			Help:      "Session record reads issued while awaiting processing.",
		}),
		ProcessingWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_wait_ms",
			Help:      "Time from call end to observed pipeline completion in milliseconds.",
			Buckets:   []float64{2000, 5000, 10000, 20000, 40000, 80000, 160000},
		}),
		DriftCorrections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_drift_corrections_total",
			Help:      "Slave audio reseeks issued to correct playback drift.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveUploadLatency(d time.Duration) {
	m.UploadLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("chunk_upload", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveProcessingWait(d time.Duration) {
	m.ProcessingWait.Observe(float64(d.Milliseconds()))
	m.stages.Observe("processing_wait", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
