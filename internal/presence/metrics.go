package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for presence tracking.
var (
	// heartbeatsTotal counts handled heartbeats by reply.
	heartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_presence_heartbeats_total",
		Help: "Total number of heartbeats handled, by result",
	}, []string{"result"})

	// statusQueriesTotal counts answered status queries by reply.
	statusQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_presence_status_queries_total",
		Help: "Total number of status queries answered, by result",
	}, []string{"result"})

	// evictionsTotal counts devices aged out by sweeps.
	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_presence_evictions_total",
		Help: "Total number of devices evicted after missing heartbeats, by status",
	}, []string{"status"})

	// sweepsTotal counts sweep ticks.
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_presence_sweeps_total",
		Help: "Total number of liveness sweeps run",
	})

	// trackedDevices is the current registry size by status.
	trackedDevices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fm_presence_tracked_devices",
		Help: "Devices currently tracked in memory, by status",
	}, []string{"status"})

	// connectionLossesTotal counts unexpected broker connection losses.
	connectionLossesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_presence_broker_connection_losses_total",
		Help: "Total number of unexpected broker connection losses",
	})
)

// Result labels that are not classifications.
const (
	resultDropped        = "dropped"
	resultUnknownCommand = "unknown_command"
)

// recordTrackedDevices publishes the registry size per status.
func recordTrackedDevices(r *Registry) {
	trackedDevices.WithLabelValues(StatusNew.String()).Set(float64(r.Count(StatusNew)))
	trackedDevices.WithLabelValues(StatusConnected.String()).Set(float64(r.Count(StatusConnected)))
}
