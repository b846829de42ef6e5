package grid

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	levelLabel       = "level"
	orientationLabel = "orientation"
	operationLabel   = "operation"

	orientationSame     = "same"
	orientationOpposite = "opposite"
)

var (
	nodesLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lodgrid_nodes_live",
		Help: "The number of live grid nodes.",
	}, []string{
		levelLabel,
	})

	nodesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lodgrid_nodes_released_total",
		Help: "The number of grid nodes released back to the arena.",
	})

	edgesRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lodgrid_edges_registered_total",
		Help: "The number of edges registered on grid nodes.",
	})

	edgesDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodgrid_edges_deduplicated_total",
		Help: "The number of edge registrations skipped because the boundary was already recorded.",
	}, []string{
		orientationLabel,
	})

	invalidDirections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodgrid_invalid_direction_total",
		Help: "The number of operations called with an invalid direction.",
	}, []string{
		operationLabel,
	})
)

func instrumentNodeAlloc(level int) {
	nodesLive.With(prometheus.Labels{
		levelLabel: strconv.Itoa(level),
	}).Inc()
}

func instrumentNodeRelease(level int) {
	nodesLive.With(prometheus.Labels{
		levelLabel: strconv.Itoa(level),
	}).Dec()
	nodesReleased.Inc()
}

func instrumentEdgeRegistered() {
	edgesRegistered.Inc()
}

func instrumentEdgeDeduplicated(orientation string) {
	edgesDeduplicated.With(prometheus.Labels{
		orientationLabel: orientation,
	}).Inc()
}

func instrumentInvalidDirection(operation string) {
	invalidDirections.With(prometheus.Labels{
		operationLabel: operation,
	}).Inc()
}
