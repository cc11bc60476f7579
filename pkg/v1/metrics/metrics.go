// Package metrics declares the prometheus instruments for the fan-out engine.
//
// Naming convention: namespace_subsystem_name
//   - namespace: syncroom (application-level grouping)
//   - subsystem: connection, room, dispatch (feature-level grouping)
//   - name: specific metric (clients_active, messages_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveClients tracks the number of currently connected clients.
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncroom",
		Subsystem: "connection",
		Name:      "clients_active",
		Help:      "Current number of connected clients",
	})

	// ActiveRooms tracks the number of rooms held by the broadcaster.
	// Rooms are never garbage-collected, so this gauge only grows.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncroom",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// RoomMembers tracks the member count of each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "syncroom",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// Messages counts processed inbound messages by method and outcome.
	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "connection",
		Name:      "messages_total",
		Help:      "Total inbound client messages processed",
	}, []string{"method", "status"})

	// DispatchDuration tracks time spent inside reducer dispatches,
	// including the wait for the room lock.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncroom",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Time spent applying actions to room reducers",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"status"})

	// RateLimitExceeded counts requests rejected by rate limiting.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "connection",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope"})

	// DroppedResponses counts outbound frames lost to sink send failures.
	DroppedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "connection",
		Name:      "responses_dropped_total",
		Help:      "Total outbound responses dropped due to sink send failures",
	})
)

func IncConnection() {
	ActiveClients.Inc()
}

func DecConnection() {
	ActiveClients.Dec()
}
