package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedSessions tracks the number of live realtime sessions.
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "placeboard_connected_sessions",
		Help: "Number of currently connected realtime sessions.",
	})

	// PlacementsAccepted counts placements committed to the board store.
	PlacementsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placeboard_placements_accepted_total",
		Help: "Total number of accepted pixel placements.",
	})

	// PlacementsRejected counts rejected placements by reason.
	PlacementsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placeboard_placements_rejected_total",
		Help: "Total number of rejected pixel placements by reason.",
	}, []string{"reason"})

	// RegionsCleared counts admin region clears.
	RegionsCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placeboard_regions_cleared_total",
		Help: "Total number of admin region clears.",
	})

	// BroadcastsDropped counts messages dropped because a session's
	// outbound buffer was full.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placeboard_broadcasts_dropped_total",
		Help: "Total number of broadcast messages dropped for slow sessions.",
	})
)
