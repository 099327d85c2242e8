// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsApplied tracks push events applied to the local projection.
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_applied_total",
			Help: "Push events applied to the local projection",
		},
		[]string{"event"},
	)

	// EventsDropped tracks push events dropped before reconciliation.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_dropped_total",
			Help: "Push events dropped (duplicate id, malformed payload, unknown name)",
		},
		[]string{"reason"},
	)

	// HydrationsTotal tracks REST hydrations by trigger.
	HydrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_hydrations_total",
			Help: "REST hydrations performed",
		},
		[]string{"trigger", "status"},
	)

	// HydrationDuration tracks REST hydration latency.
	HydrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_hydration_duration_seconds",
			Help:    "REST hydration duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"trigger"},
	)

	// PendingMessages tracks messages awaiting server confirmation.
	PendingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pending_messages",
			Help: "Messages awaiting server confirmation",
		},
	)

	// OptimisticRollbacks tracks optimistic writes rolled back after REST failure.
	OptimisticRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_optimistic_rollbacks_total",
			Help: "Optimistic writes rolled back after a gateway failure",
		},
		[]string{"op"},
	)

	// ChannelReconnects tracks push channel reconnections.
	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_channel_reconnects_total",
			Help: "Push channel reconnections observed by the session",
		},
	)

	// TypingExpirations tracks typing states expired by the tracker.
	TypingExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_typing_expirations_total",
			Help: "Typing states expired without an explicit stop",
		},
	)

	// UnreadTotal tracks unread messages across all conversations.
	UnreadTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_unread_messages",
			Help: "Unread messages across all conversations",
		},
	)
)

// RecordHydration records a hydration attempt and its latency.
func RecordHydration(trigger, status string, seconds float64) {
	HydrationsTotal.WithLabelValues(trigger, status).Inc()
	HydrationDuration.WithLabelValues(trigger).Observe(seconds)
}
