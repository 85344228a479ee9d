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
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	UpstreamErrors    *prometheus.CounterVec
	ConnectAttempts   *prometheus.CounterVec
	BroadcastFailures prometheus.Counter
	QueueDrops        *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram
	ConnectLatency    prometheus.Histogram

	window *sessionWindow
}

// NewMetrics registers the instruments on reg; nil means the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active upstream voice sessions (0 or 1).",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream stream errors by operation.",
		}, []string{"op"}),
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connect_attempts_total",
			Help:      "Upstream connect attempts by result.",
		}, []string{"result"}),
		BroadcastFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Failed deliveries of synthesized audio to a single client.",
		}),
		QueueDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Audio frames dropped before reaching a relay queue, by reason.",
		}, []string{"reason"}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from session running to first synthesized audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
		ConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_latency_ms",
			Help:      "Time to open an upstream session including retries, in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		window: newSessionWindow(128),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(sessionID string, d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.window.record(sessionID, StageFirstAudio, d)
}

func (m *Metrics) ObserveConnectLatency(sessionID string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
	m.window.record(sessionID, StageConnect, d)
}

// ObserveStopLatency records how long a session teardown took to join.
func (m *Metrics) ObserveStopLatency(sessionID string, d time.Duration) {
	if m == nil {
		return
	}
	m.window.record(sessionID, StageStop, d)
}

// SnapshotLatency reports per-session stage timings and drop/error counters.
func (m *Metrics) SnapshotLatency() LatencyReport {
	if m == nil {
		return LatencyReport{
			GeneratedAt: time.Now().UTC(),
			Sessions:    []SessionTiming{},
			Stages:      []StageSummary{},
		}
	}
	return m.window.report()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveUpstreamError(op string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(op).Inc()
	m.window.countUpstreamError(op)
}

func (m *Metrics) ObserveConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBroadcastFailure() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

func (m *Metrics) ObserveQueueDrop(reason string) {
	if m == nil {
		return
	}
	m.QueueDrops.WithLabelValues(reason).Inc()
	m.window.countDrop(reason)
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
