// Package metrics holds the Prometheus collectors of the messaging core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	Connections        prometheus.Gauge
	OnlineUsers        prometheus.Gauge
	EventsSent         *prometheus.CounterVec
	EventsReceived     *prometheus.CounterVec
	DroppedConnections prometheus.Counter
	MessagesIngested   *prometheus.CounterVec
	ReceiptTransitions *prometheus.CounterVec
	TypingExpired      prometheus.Counter
	OfflineHandoffs    *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg uses a fresh private
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_online_users",
			Help: "Users with at least one live connection",
		}),
		EventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_sent_total",
			Help: "Events queued to connections, by type",
		}, []string{"type"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_events_received_total",
			Help: "Events received from connections, by type and outcome",
		}, []string{"type", "outcome"}),
		DroppedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_dropped_connections_total",
			Help: "Connections dropped because their send buffer was full",
		}),
		MessagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_ingested_total",
			Help: "Compose requests by result (saved, replay, error kind)",
		}, []string{"result"}),
		ReceiptTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_receipt_transitions_total",
			Help: "Receipt state transitions by target status",
		}, []string{"status"}),
		TypingExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_typing_expired_total",
			Help: "Typing indicators cleared by forced expiry",
		}),
		OfflineHandoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_offline_handoffs_total",
			Help: "Offline recipient notifications by result",
		}, []string{"result"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_gateway_seconds",
			Help:    "Persistence gateway call latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Connections,
		m.OnlineUsers,
		m.EventsSent,
		m.EventsReceived,
		m.DroppedConnections,
		m.MessagesIngested,
		m.ReceiptTransitions,
		m.TypingExpired,
		m.OfflineHandoffs,
		m.GatewayLatency,
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) EventSent(eventType string) {
	if m == nil {
		return
	}
	m.EventsSent.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventReceived(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ConnectionDropped() {
	if m == nil {
		return
	}
	m.DroppedConnections.Inc()
}

func (m *Metrics) MessageIngested(result string) {
	if m == nil {
		return
	}
	m.MessagesIngested.WithLabelValues(result).Inc()
}

func (m *Metrics) ReceiptTransition(status string) {
	if m == nil {
		return
	}
	m.ReceiptTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) TypingExpiredInc() {
	if m == nil {
		return
	}
	m.TypingExpired.Inc()
}

func (m *Metrics) OfflineHandoff(result string) {
	if m == nil {
		return
	}
	m.OfflineHandoffs.WithLabelValues(result).Inc()
}

// ObserveGateway records the latency of a gateway call started at start.
func (m *Metrics) ObserveGateway(op string, start time.Time) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
