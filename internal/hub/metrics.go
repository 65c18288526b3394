package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the hub's prometheus collectors. A nil *Metrics is valid
// and records nothing, so tests can run without a registry.
type Metrics struct {
	activeConnections prometheus.Gauge
	broadcastTotal    prometheus.Counter
	deliveryFailures  prometheus.Counter
	droppedMessages   prometheus.Counter
	throttledMessages prometheus.Counter
}

// NewMetrics builds and registers the hub collectors. A nil reg falls back
// to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatterbox_connections_active",
			Help: "Current number of connections registered in a room.",
		}),
		broadcastTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatterbox_messages_broadcast_total",
			Help: "Messages fanned out to a room since start.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatterbox_deliveries_failed_total",
			Help: "Per-member deliveries skipped because the connection was gone or its buffer full.",
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatterbox_messages_dropped_total",
			Help: "Inbound payloads discarded as malformed.",
		}),
		throttledMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatterbox_messages_throttled_total",
			Help: "Inbound payloads discarded by per-connection rate limiting.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.broadcastTotal,
		m.deliveryFailures,
		m.droppedMessages,
		m.throttledMessages,
	)
	return m
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) broadcastSent(report DeliveryReport) {
	if m == nil {
		return
	}
	m.broadcastTotal.Inc()
	m.deliveryFailures.Add(float64(report.Failed))
}

func (m *Metrics) messageDropped() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

func (m *Metrics) messageThrottled() {
	if m == nil {
		return
	}
	m.throttledMessages.Inc()
}
