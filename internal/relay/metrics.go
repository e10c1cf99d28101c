package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Route outcomes recorded by the router metric.
const (
	routeDirect       = "direct"
	routeIntroduction = "introduction"
	routeDropped      = "dropped"
)

type Metrics struct {
	sessionsActive prometheus.Gauge
	usersCreated   prometheus.Counter
	messagesRouted *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chirp_relay_sessions_active",
			Help: "Connections currently registered with the relay core.",
		}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chirp_relay_users_created_total",
			Help: "User identities allocated and persisted.",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_relay_messages_routed_total",
			Help: "Chat messages by routing outcome.",
		}, []string{"path"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_relay_broadcast_frames_total",
			Help: "Profile update frames fanned out to contacts.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_relay_rejected_requests_total",
			Help: "Requests dropped by the core, by reason.",
		}, []string{"reason"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chirp_relay_store_latency_seconds",
			Help:    "Latency of persistent store jobs.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.usersCreated,
		m.messagesRouted,
		m.broadcasts,
		m.rejected,
		m.storeLatency,
	)
	return m
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) RecordUserCreated() {
	if m == nil {
		return
	}
	m.usersCreated.Inc()
}

func (m *Metrics) RecordRoute(path string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(path).Inc()
}

func (m *Metrics) RecordBroadcast(kind string, frames int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Add(float64(frames))
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveStore(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}
