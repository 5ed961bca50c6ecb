package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes hub instrumentation through Prometheus.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	ActiveRooms        prometheus.Gauge
	OperationsRelayed  prometheus.Counter
	BroadcastFailures  prometheus.Counter
	SaveConflicts      prometheus.Counter
	FramesReceived     *prometheus.CounterVec
	SessionsEvicted    prometheus.Counter
	HighFrequencyFlags prometheus.Counter
}

// NewMetrics creates and registers hub metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drawdock_active_sessions",
			Help: "Number of live collaboration sessions across all rooms.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drawdock_active_rooms",
			Help: "Number of rooms with at least one member.",
		}),
		OperationsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawdock_operations_relayed_total",
			Help: "Operations appended to room history and re-broadcast.",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawdock_broadcast_failures_total",
			Help: "Recipients skipped during fan-out because their send queue was full.",
		}),
		SaveConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawdock_save_conflicts_total",
			Help: "Saves rejected by the version check.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drawdock_frames_received_total",
			Help: "Inbound frames by message type.",
		}, []string{"message_type"}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawdock_sessions_evicted_total",
			Help: "Stale sessions evicted by a same-identifier rejoin.",
		}),
		HighFrequencyFlags: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drawdock_high_frequency_flags_total",
			Help: "Operations received from senders classified as high-frequency.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveSessions,
			m.ActiveRooms,
			m.OperationsRelayed,
			m.BroadcastFailures,
			m.SaveConflicts,
			m.FramesReceived,
			m.SessionsEvicted,
			m.HighFrequencyFlags,
		)
	}
	return m
}
