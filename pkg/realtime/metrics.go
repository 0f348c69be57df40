package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-live/pkg/tools"
)

const metricsNamespace = "golive"

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	SessionsOpened    prometheus.Counter
	ReconnectAttempts prometheus.Counter
	AudioFramesSent   prometheus.Counter
	AudioFramesDrop   *prometheus.CounterVec
	VideoFramesSent   prometheus.Counter
	ToolCalls         *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	Inbound           *prometheus.CounterVec
	Tokens            *prometheus.CounterVec
	Speaking          prometheus.Gauge
	State             prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_opened_total",
			Help:      "Connections that completed setup.",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnection attempts.",
		}),
		AudioFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_frames_sent_total",
			Help:      "Microphone frames sent to the model.",
		}),
		AudioFramesDrop: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Microphone frames not sent, by reason.",
		}, []string{"reason"}),
		VideoFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "video_frames_sent_total",
			Help:      "Video frames sent to the model.",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by name and outcome.",
		}, []string{"name", "outcome"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
		Inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inbound_messages_total",
			Help:      "Server messages by variant.",
		}, []string{"variant"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Token usage reported by the server.",
		}, []string{"direction"}),
		Speaking: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "speaking",
			Help:      "1 while model audio is playing.",
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "0 idle, 1 connecting, 2 connected, 3 reconnecting.",
		}),
	}
}

func (m *Metrics) observeTool(name string, outcome tools.Outcome, d time.Duration) {
	m.ToolCalls.WithLabelValues(name, string(outcome)).Inc()
	m.ToolDuration.WithLabelValues(name).Observe(d.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
