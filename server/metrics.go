package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments one server. Pass the same instance in the Config
// and register it on the process registry.
type Metrics struct {
	ConnsActive        prometheus.Gauge
	ConnsAccepted      prometheus.Counter
	ValidationFailures prometheus.Counter
	MessagesDispatched prometheus.Counter
	MessagesSent       prometheus.Counter
}

// NewMetrics creates the metric set and registers it on reg. A nil reg
// leaves the metrics unregistered, which tests use to avoid collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netframe",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Live connections in the server's table.",
		}),
		ConnsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netframe",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted and admitted to the live set.",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netframe",
			Subsystem: "server",
			Name:      "validation_failures_total",
			Help:      "Connections rejected by the validation handshake.",
		}),
		MessagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netframe",
			Subsystem: "server",
			Name:      "messages_dispatched_total",
			Help:      "Messages handed to the application handler.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netframe",
			Subsystem: "server",
			Name:      "messages_sent_total",
			Help:      "Messages enqueued for delivery to peers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnsActive,
			m.ConnsAccepted,
			m.ValidationFailures,
			m.MessagesDispatched,
			m.MessagesSent,
		)
	}

	return m
}
