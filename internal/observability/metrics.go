package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the gateway.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	AudioRejects   *prometheus.CounterVec
	FanoutDrops    *prometheus.CounterVec
	TurnDuration   prometheus.Histogram

	turnPhases *turnPhaseWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by code and severity.",
		}, []string{"code", "severity"}),
		AudioRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_rejects_total",
			Help:      "Inbound audio frames rejected before transcription, by reason.",
		}, []string{"reason"}),
		FanoutDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_drops_total",
			Help:      "Stream events shed from a full consumer queue, by consumer.",
		}, []string{"consumer"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_ms",
			Help:      "Completed turn duration in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		turnPhases: newTurnPhaseWindow(256),
	}
}

func (m *Metrics) ObserveTurnDuration(d time.Duration) {
	m.TurnDuration.Observe(float64(d.Milliseconds()))
}

// ObservePhase records one phase latency sample in the rolling window.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.turnPhases.Observe(phase, float64(d.Milliseconds()))
}

// PhaseSnapshot returns rolling latency stats for the perf endpoint.
func (m *Metrics) PhaseSnapshot() TurnPhaseSnapshot {
	return m.turnPhases.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
