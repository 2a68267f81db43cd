// Package observability exposes engine activity as Prometheus metrics. The
// Metrics type plugs into the engine as a notification sink; every message
// family and phase becomes a labeled counter.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelauto/kestrel/pkg/notify"
)

// Metrics aggregates notification traffic into Prometheus counters.
type Metrics struct {
	notifications *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	unknown       prometheus.Counter
}

// NewMetrics builds the collector set and registers it with reg. A nil
// registerer skips registration, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "notifications_total",
			Help:      "Engine notifications by message and phase.",
		}, []string{"message", "phase"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "tasks_total",
			Help:      "Task completions by outcome.",
		}, []string{"outcome"}),
		unknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "unknown_notifications_total",
			Help:      "Notifications outside the known message families.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.notifications, m.tasks, m.unknown)
	}
	return m
}

// Notify consumes one engine notification. It matches the engine's sink
// signature and never blocks.
func (m *Metrics) Notify(message string, details []byte) {
	event := notify.Parse(message, details)
	m.notifications.WithLabelValues(message, event.Phase().String()).Inc()

	switch ev := event.(type) {
	case notify.TaskerTask:
		switch ev.Phase() {
		case notify.PhaseSucceeded:
			m.tasks.WithLabelValues("succeeded").Inc()
		case notify.PhaseFailed:
			m.tasks.WithLabelValues("failed").Inc()
		}
	case notify.Unknown:
		m.unknown.Inc()
	}
}
