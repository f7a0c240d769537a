// Package metrics exposes the chat engine's Prometheus collectors.
// All methods are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conify"

type Metrics struct {
	MessagesSent          prometheus.Counter
	MessageFailures       *prometheus.CounterVec
	ReadAcks              prometheus.Counter
	ConversationConflicts prometheus.Counter
	EventsPublished       *prometheus.CounterVec
	EventsDropped         *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
	OnlineUsers           prometheus.Gauge
	PresenceTransitions   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted by the pipeline.",
		}),
		MessageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_failures_total",
			Help:      "Durable message operations that failed, by stage.",
		}, []string{"stage"}),
		ReadAcks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_acks_total",
			Help:      "Read acknowledgements applied.",
		}),
		ConversationConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_write_conflicts_total",
			Help:      "Optimistic concurrency conflicts on conversation writes.",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to the router, by type.",
		}, []string{"type"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Pushes dropped, by reason.",
		}, []string{"reason"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_sessions",
			Help:      "Open realtime sessions on this node.",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one live session tracked by this node.",
		}),
		PresenceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      "Online and offline transitions.",
		}, []string{"state"}),
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) MessageFailed(stage string) {
	if m != nil {
		m.MessageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ReadAck() {
	if m != nil {
		m.ReadAcks.Inc()
	}
}

func (m *Metrics) ConversationConflict() {
	if m != nil {
		m.ConversationConflicts.Inc()
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) UserOnline() {
	if m != nil {
		m.OnlineUsers.Inc()
		m.PresenceTransitions.WithLabelValues("online").Inc()
	}
}

func (m *Metrics) UserOffline() {
	if m != nil {
		m.OnlineUsers.Dec()
		m.PresenceTransitions.WithLabelValues("offline").Inc()
	}
}
